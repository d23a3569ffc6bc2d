package annotation

import "github.com/wychytu/opencga/internal/query"

// Combination records which of biotype, consequence type and transcript
// flag a query filters by. The index can only strip a predicate when it is
// not combined with the others, since the three are joined per transcript.
type Combination uint8

// Combinations.
const (
	Biotype Combination = 1 << iota
	CT
	Flag
)

const (
	None          Combination = 0
	BiotypeCT                 = Biotype | CT
	BiotypeFlag               = Biotype | Flag
	CTFlag                    = CT | Flag
	BiotypeCTFlag             = Biotype | CT | Flag
)

func combinationOf(q query.Query) Combination {
	var c Combination
	if q.Has(query.Biotype) {
		c |= Biotype
	}
	if q.Has(query.ConsequenceType) {
		c |= CT
	}
	if q.Has(query.TranscriptFlag) {
		c |= Flag
	}
	return c
}

func (c Combination) biotype() bool         { return c&Biotype != 0 }
func (c Combination) consequenceType() bool { return c&CT != 0 }

// simple reports whether a single one of biotype or consequence type is
// filtered, with no transcript flag.
func (c Combination) simple() bool {
	return c == Biotype || c == CT
}

func (c Combination) String() string {
	switch c {
	case None:
		return "NONE"
	case Biotype:
		return "BIOTYPE"
	case CT:
		return "CT"
	case Flag:
		return "FLAG"
	case BiotypeCT:
		return "BIOTYPE_CT"
	case BiotypeFlag:
		return "BIOTYPE_FLAG"
	case CTFlag:
		return "CT_FLAG"
	default:
		return "BIOTYPE_CT_FLAG"
	}
}
