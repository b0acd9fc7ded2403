package graph

const (
	createEntityQuery = `
		CREATE (n:Entity {
			id: $id,
			user_id: $user_id,
			type: $type,
			name: $name,
			canonical_name: $canonical_name,
			attributes: $attributes,
			confidence: $confidence,
			version: 1,
			created_at: $created_at,
			updated_at: $updated_at
		})
		RETURN n.id AS id
	`

	getEntityQuery = `
		MATCH (n:Entity {id: $id})
		RETURN n.id AS id, n.user_id AS user_id, n.type AS type, n.name AS name,
			n.attributes AS attributes, n.confidence AS confidence,
			n.version AS version, n.created_at AS created_at, n.updated_at AS updated_at
	`

	getEntityByNameQuery = `
		MATCH (n:Entity {user_id: $user_id, type: $type, canonical_name: $canonical_name})
		RETURN n.id AS id, n.user_id AS user_id, n.type AS type, n.name AS name,
			n.attributes AS attributes, n.confidence AS confidence,
			n.version AS version, n.created_at AS created_at, n.updated_at AS updated_at
		LIMIT 1
	`

	listEntitiesByTypeQuery = `
		MATCH (n:Entity {user_id: $user_id, type: $type})
		RETURN n.id AS id, n.user_id AS user_id, n.type AS type, n.name AS name,
			n.attributes AS attributes, n.confidence AS confidence,
			n.version AS version, n.created_at AS created_at, n.updated_at AS updated_at
	`

	findEntitiesQuery = `
		MATCH (n:Entity {user_id: $user_id})
		WHERE n.canonical_name <> "" AND $text CONTAINS n.canonical_name
		RETURN n.id AS id, n.user_id AS user_id, n.type AS type, n.name AS name,
			n.attributes AS attributes, n.confidence AS confidence,
			n.version AS version, n.created_at AS created_at, n.updated_at AS updated_at
	`

	// The version guard is the whole point: zero rows updated means a
	// concurrent writer got there first.
	compareAndUpdateQuery = `
		MATCH (n:Entity {id: $id})
		WHERE n.version = $expected_version
		SET n.name = $name,
			n.canonical_name = $canonical_name,
			n.type = $type,
			n.attributes = $attributes,
			n.confidence = $confidence,
			n.version = $expected_version + 1,
			n.updated_at = $updated_at
		RETURN n.version AS version
	`

	createEdgeQuery = `
		MATCH (source:Entity {id: $source_id})
		MATCH (target:Entity {id: $target_id})
		CREATE (source)-[e:RELATES_TO {
			id: $id,
			user_id: $user_id,
			type: $type,
			fact: $fact,
			attributes: $attributes,
			confidence: $confidence,
			version: 1,
			chunk_ids: $chunk_ids,
			valid_from: $valid_from,
			valid_to: null
		}]->(target)
		RETURN e.id AS id
	`

	closeEdgeQuery = `
		MATCH ()-[e:RELATES_TO {id: $id}]->()
		WHERE e.valid_to IS NULL
		SET e.valid_to = $valid_to, e.version = e.version + 1
		RETURN e.id AS id
	`

	activeEdgesQuery = `
		MATCH (source:Entity)-[e:RELATES_TO]->(target:Entity)
		WHERE e.user_id = $user_id AND e.valid_to IS NULL
			AND (source.id = $entity_id OR target.id = $entity_id)
		RETURN e.id AS id, e.user_id AS user_id, e.type AS type,
			source.id AS source_id, target.id AS target_id,
			e.fact AS fact, e.attributes AS attributes, e.confidence AS confidence,
			e.version AS version, e.chunk_ids AS chunk_ids,
			e.valid_from AS valid_from, e.valid_to AS valid_to
	`

	edgesBetweenQuery = `
		MATCH (source:Entity {id: $source_id})-[e:RELATES_TO]->(target:Entity {id: $target_id})
		WHERE e.type = $type
		RETURN e.id AS id, e.user_id AS user_id, e.type AS type,
			source.id AS source_id, target.id AS target_id,
			e.fact AS fact, e.attributes AS attributes, e.confidence AS confidence,
			e.version AS version, e.chunk_ids AS chunk_ids,
			e.valid_from AS valid_from, e.valid_to AS valid_to
	`
)

var indexQueries = []string{
	"CREATE INDEX ON :Entity(id);",
	"CREATE INDEX ON :Entity(user_id);",
	"CREATE INDEX ON :Entity(canonical_name);",
}
