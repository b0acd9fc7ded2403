package query

// Strategy names how results from the two stores are combined.
type Strategy string

const (
	// StrategyNone applies when only one store is targeted.
	StrategyNone Strategy = "none"
	// StrategyUnion concatenates both stores' results, deduplicated by id.
	StrategyUnion Strategy = "union"
	// StrategyGraphFirst leads with structured facts; evidence is attached
	// as supporting context only.
	StrategyGraphFirst Strategy = "graph_first"
	// StrategyVectorFirst leads with ranked evidence; structured facts are
	// attached as constraints.
	StrategyVectorFirst Strategy = "vector_first"
	// StrategyIntersection keeps only items both stores reference.
	StrategyIntersection Strategy = "intersection"
)

// Plan routes one query. Built fresh per query, never persisted.
type Plan struct {
	Type       Type     `json:"query_type"`
	Structured bool     `json:"structured"`
	Evidence   bool     `json:"evidence"`
	Strategy   Strategy `json:"strategy"`
}

// PlanFor maps a query type to its target stores and merge strategy.
//
//	semantic     -> evidence
//	relationship -> structured
//	profile      -> both, union
//	temporal     -> evidence + structured constraints, graph-first
//	filter       -> structured
//	hybrid       -> both, vector-first
func PlanFor(t Type) Plan {
	switch t {
	case TypeSemantic:
		return Plan{Type: t, Evidence: true, Strategy: StrategyNone}
	case TypeRelationship, TypeFilter:
		return Plan{Type: t, Structured: true, Strategy: StrategyNone}
	case TypeProfile:
		return Plan{Type: t, Structured: true, Evidence: true, Strategy: StrategyUnion}
	case TypeTemporal:
		return Plan{Type: t, Structured: true, Evidence: true, Strategy: StrategyGraphFirst}
	default:
		return Plan{Type: TypeHybrid, Structured: true, Evidence: true, Strategy: StrategyVectorFirst}
	}
}
