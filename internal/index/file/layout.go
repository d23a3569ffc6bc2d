package file

import "strings"

// Layout of the per-call file index byte:
//
//	bit  0    FILTER=PASS
//	bits 1-3  variant type code
//	bits 4-5  QUAL code
//	bits 6-7  DP code
const (
	FilterPassMask byte = 1 << 0

	TypeShift      = 1
	TypeMask  byte = 0b111 << TypeShift

	QualShift      = 4
	QualMask  byte = 0b11 << QualShift

	DPShift      = 6
	DPMask  byte = 0b11 << DPShift
)

// Variant type codes.
const (
	TypeOther     uint8 = 0
	TypeSNV       uint8 = 1
	TypeMNV       uint8 = 2
	TypeIndel     uint8 = 3
	TypeInsertion uint8 = 4
	TypeDeletion  uint8 = 5
	TypeCNV       uint8 = 6
	TypeBreakend  uint8 = 7
)

var typeCodes = map[string]uint8{
	"SNV":                TypeSNV,
	"SNP":                TypeSNV,
	"MNV":                TypeMNV,
	"MNP":                TypeMNV,
	"INDEL":              TypeIndel,
	"INSERTION":          TypeInsertion,
	"DELETION":           TypeDeletion,
	"CNV":                TypeCNV,
	"COPY_NUMBER":        TypeCNV,
	"COPY_NUMBER_GAIN":   TypeCNV,
	"COPY_NUMBER_LOSS":   TypeCNV,
	"DUPLICATION":        TypeCNV,
	"TANDEM_DUPLICATION": TypeCNV,
	"BREAKEND":           TypeBreakend,
	"TRANSLOCATION":      TypeBreakend,
	"SV":                 TypeOther,
	"INVERSION":          TypeOther,
	"SYMBOLIC":           TypeOther,
	"MIXED":              TypeOther,
	"NO_VARIATION":       TypeOther,
}

// TypeCode returns the code of a variant type name such as "SNV" or
// "deletion". Unknown names are reported with ok=false.
func TypeCode(name string) (code uint8, ok bool) {
	code, ok = typeCodes[strings.ToUpper(strings.TrimSpace(name))]
	return code, ok
}

// Pack builds a file index byte.
func Pack(pass bool, typeCode, qualCode, dpCode uint8) byte {
	var b byte
	if pass {
		b |= FilterPassMask
	}
	b |= (typeCode << TypeShift) & TypeMask
	b |= (qualCode << QualShift) & QualMask
	b |= (dpCode << DPShift) & DPMask
	return b
}

// Unpack splits a file index byte into its fields.
func Unpack(b byte) (pass bool, typeCode, qualCode, dpCode uint8) {
	return b&FilterPassMask != 0,
		(b & TypeMask) >> TypeShift,
		(b & QualMask) >> QualShift,
		(b & DPMask) >> DPShift
}
