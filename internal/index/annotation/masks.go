package annotation

// Summary bits of the per-variant annotation byte.
const (
	ProteinCodingMask     byte = 1 << 0
	MissenseMask          byte = 1 << 1
	LOFMask               byte = 1 << 2
	LOFExtendedMask       byte = 1 << 3
	LOFEProteinCodingMask byte = 1 << 4
	PopFreqAny001Mask     byte = 1 << 5
	ClinicalMask          byte = 1 << 6
	IntergenicMask        byte = 1 << 7
)

// Consequence type bits.
const (
	CTMissense uint16 = 1 << iota
	CTFrameshift
	CTInframeDeletion
	CTInframeInsertion
	CTStartLost
	CTStopGained
	CTStopLost
	CTSpliceAcceptor
	CTSpliceDonor
	CTTranscriptAblation
	CTTranscriptAmplification
	CTInitiatorCodon
	CTSpliceRegion
	CTIncompleteTerminalCodon
	CTUTR
	CTMirnaTfbs
)

// Biotype bits.
const (
	BTNonsenseMediatedDecay uint8 = 1 << iota
	BTLncRNA
	BTMiRNA
	BTRetainedIntron
	BTSnRNA
	BTSnoRNA
	BTOther
	BTProteinCoding
)

// Clinical significance bits.
const (
	ClinicalLikelyBenign     uint8 = 1 << 0
	ClinicalVUS              uint8 = 1 << 1
	ClinicalLikelyPathogenic uint8 = 1 << 2
	ClinicalPathogenic       uint8 = 1 << 3
)

// Sequence ontology terms.
const (
	MissenseVariant                = "missense_variant"
	FrameshiftVariant              = "frameshift_variant"
	InframeDeletion                = "inframe_deletion"
	InframeInsertion               = "inframe_insertion"
	StartLost                      = "start_lost"
	StopGained                     = "stop_gained"
	StopLost                       = "stop_lost"
	SpliceAcceptorVariant          = "splice_acceptor_variant"
	SpliceDonorVariant             = "splice_donor_variant"
	SpliceRegionVariant            = "splice_region_variant"
	TranscriptAblation             = "transcript_ablation"
	TranscriptAmplification        = "transcript_amplification"
	InitiatorCodonVariant          = "initiator_codon_variant"
	IncompleteTerminalCodonVariant = "incomplete_terminal_codon_variant"
	FeatureTruncation              = "feature_truncation"
	ThreePrimeUTRVariant           = "3_prime_UTR_variant"
	FivePrimeUTRVariant            = "5_prime_UTR_variant"
	MatureMiRNAVariant             = "mature_miRNA_variant"
	TFBindingSiteVariant           = "TF_binding_site_variant"
	IntergenicVariant              = "intergenic_variant"
	RegulatoryRegionVariant        = "regulatory_region_variant"
	SynonymousVariant              = "synonymous_variant"
	IntronVariant                  = "intron_variant"
	UpstreamGeneVariant            = "upstream_gene_variant"
	DownstreamGeneVariant          = "downstream_gene_variant"
	StopRetainedVariant            = "stop_retained_variant"
	CodingSequenceVariant          = "coding_sequence_variant"
	NonCodingTranscriptExonVariant = "non_coding_transcript_exon_variant"
	NMDTranscriptVariant           = "NMD_transcript_variant"
)

// ProteinCoding is the protein coding biotype.
const ProteinCoding = "protein_coding"

// soAccessions maps sequence ontology accessions to their term.
var soAccessions = map[string]string{
	"SO:0001583": MissenseVariant,
	"SO:0001589": FrameshiftVariant,
	"SO:0001822": InframeDeletion,
	"SO:0001821": InframeInsertion,
	"SO:0002012": StartLost,
	"SO:0001587": StopGained,
	"SO:0001578": StopLost,
	"SO:0001574": SpliceAcceptorVariant,
	"SO:0001575": SpliceDonorVariant,
	"SO:0001630": SpliceRegionVariant,
	"SO:0001893": TranscriptAblation,
	"SO:0001889": TranscriptAmplification,
	"SO:0001582": InitiatorCodonVariant,
	"SO:0001626": IncompleteTerminalCodonVariant,
	"SO:0001906": FeatureTruncation,
	"SO:0001624": ThreePrimeUTRVariant,
	"SO:0001623": FivePrimeUTRVariant,
	"SO:0001620": MatureMiRNAVariant,
	"SO:0001782": TFBindingSiteVariant,
	"SO:0001628": IntergenicVariant,
	"SO:0001566": RegulatoryRegionVariant,
	"SO:0001819": SynonymousVariant,
	"SO:0001627": IntronVariant,
	"SO:0001631": UpstreamGeneVariant,
	"SO:0001632": DownstreamGeneVariant,
	"SO:0001567": StopRetainedVariant,
	"SO:0001580": CodingSequenceVariant,
	"SO:0001792": NonCodingTranscriptExonVariant,
	"SO:0001621": NMDTranscriptVariant,
}

var knownTerms = func() map[string]bool {
	m := make(map[string]bool, len(soAccessions))
	for _, term := range soAccessions {
		m[term] = true
	}
	return m
}()

var ctMasks = map[string]uint16{
	MissenseVariant:                CTMissense,
	FrameshiftVariant:              CTFrameshift,
	InframeDeletion:                CTInframeDeletion,
	InframeInsertion:               CTInframeInsertion,
	StartLost:                      CTStartLost,
	StopGained:                     CTStopGained,
	StopLost:                       CTStopLost,
	SpliceAcceptorVariant:          CTSpliceAcceptor,
	SpliceDonorVariant:             CTSpliceDonor,
	TranscriptAblation:             CTTranscriptAblation,
	TranscriptAmplification:        CTTranscriptAmplification,
	InitiatorCodonVariant:          CTInitiatorCodon,
	SpliceRegionVariant:            CTSpliceRegion,
	IncompleteTerminalCodonVariant: CTIncompleteTerminalCodon,
	ThreePrimeUTRVariant:           CTUTR,
	FivePrimeUTRVariant:            CTUTR,
	MatureMiRNAVariant:             CTMirnaTfbs,
	TFBindingSiteVariant:           CTMirnaTfbs,
}

var btMasks = map[string]uint8{
	"nonsense_mediated_decay":       BTNonsenseMediatedDecay,
	"lncRNA":                        BTLncRNA,
	"lincRNA":                       BTLncRNA,
	"antisense":                     BTLncRNA,
	"sense_intronic":                BTLncRNA,
	"sense_overlapping":             BTLncRNA,
	"3prime_overlapping_ncRNA":      BTLncRNA,
	"bidirectional_promoter_lncRNA": BTLncRNA,
	"macro_lncRNA":                  BTLncRNA,
	"miRNA":                         BTMiRNA,
	"retained_intron":               BTRetainedIntron,
	"snRNA":                         BTSnRNA,
	"snoRNA":                        BTSnoRNA,
	"misc_RNA":                      BTOther,
	"rRNA":                          BTOther,
	"scaRNA":                        BTOther,
	"sRNA":                          BTOther,
	"ribozyme":                      BTOther,
	"processed_transcript":          BTOther,
	"non_stop_decay":                BTOther,
	ProteinCoding:                   BTProteinCoding,
}

// CTMask returns the consequence type bit of term, or 0 if the index
// does not store it.
func CTMask(term string) uint16 {
	return ctMasks[term]
}

// BTMask returns the biotype bit, or 0 if the index does not store it.
func BTMask(biotype string) uint8 {
	return btMasks[biotype]
}

// IsImpreciseCT reports whether mask holds more than one consequence type,
// so that matching it does not prove a specific term.
func IsImpreciseCT(mask uint16) bool {
	return mask == CTUTR || mask == CTMirnaTfbs
}

// IsImpreciseBT reports whether mask holds more than one biotype.
func IsImpreciseBT(mask uint8) bool {
	return mask == BTLncRNA || mask == BTOther
}

// Summary term sets.
var (
	LOFSet = newSet(
		FrameshiftVariant, IncompleteTerminalCodonVariant, StartLost, StopGained,
		StopLost, SpliceAcceptorVariant, SpliceDonorVariant, FeatureTruncation,
		TranscriptAblation,
	)
	LOFExtendedSet = LOFSet.union(newSet(MissenseVariant, InframeInsertion, InframeDeletion))
	BiotypeSet     = newSet(
		ProteinCoding, "IG_C_gene", "IG_D_gene", "IG_J_gene", "IG_V_gene",
		"nonsense_mediated_decay", "non_stop_decay",
		"TR_C_gene", "TR_D_gene", "TR_J_gene", "TR_V_gene",
	)
	// PopFreqAny001Set lists the populations whose frequency below 0.01
	// is summarised by PopFreqAny001Mask.
	PopFreqAny001Set = newSet("1kG_phase3:ALL", "GNOMAD_GENOMES:ALL")
)

// PopFreqThreshold001 is the frequency cut of PopFreqAny001Mask.
const PopFreqThreshold001 = 0.01

// TermSet is an immutable set of annotation terms.
type TermSet map[string]struct{}

func newSet(values ...string) TermSet {
	s := make(TermSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s TermSet) union(o TermSet) TermSet {
	out := make(TermSet, len(s)+len(o))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range o {
		out[k] = struct{}{}
	}
	return out
}

// Has reports whether term is in s.
func (s TermSet) Has(term string) bool {
	_, ok := s[term]
	return ok
}

// ContainsAll reports whether every term is in s.
func (s TermSet) ContainsAll(terms []string) bool {
	for _, t := range terms {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Equal reports whether s holds exactly the given distinct terms.
func (s TermSet) Equal(terms []string) bool {
	return len(s) == len(terms) && s.ContainsAll(terms)
}
