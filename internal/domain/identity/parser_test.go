package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullFilename(t *testing.T) {
	id, perr := Parse("3000003799_GARZA TIJERINA, MARIA ESTHER_123456_CONS.pdf")
	require.Nil(t, perr)

	assert.Equal(t, "3000003799", id.ExternalRecordID)
	assert.Equal(t, "maria esther garza tijerina", id.FullName)
	assert.Equal(t, "GARZA TIJERINA", id.RawSurnames)
	assert.Equal(t, "MARIA ESTHER", id.RawGivenNames)
	assert.Equal(t, "123456", id.SecondaryRecordNumber)
	assert.Equal(t, DocTypeConsultation, id.DocumentType)
	assert.Equal(t, "3000003799_GARZA TIJERINA, MARIA ESTHER_123456_CONS.pdf", id.SourceFilename)
}

func TestParseWithoutSecondaryRecordNumber(t *testing.T) {
	id, perr := Parse("123_LOPEZ, ANA_URG.docx")
	require.Nil(t, perr)

	assert.Empty(t, id.SecondaryRecordNumber)
	assert.Equal(t, DocTypeEmergency, id.DocumentType)
	assert.Equal(t, "ana lopez", id.FullName)
}

func TestParseCaseInsensitiveExtension(t *testing.T) {
	for _, name := range []string{
		"55_PEREZ, JOSE_LAB.PDF",
		"55_PEREZ, JOSE_LAB.Pdf",
		"55_PEREZ, JOSE_LAB.TXT",
		"55_PEREZ, JOSE_LAB.DOC",
	} {
		id, perr := Parse(name)
		require.Nil(t, perr, "filename %q should parse", name)
		assert.Equal(t, DocTypeLab, id.DocumentType)
	}
}

func TestParseUnknownTypeCodeMapsToOther(t *testing.T) {
	id, perr := Parse("55_PEREZ, JOSE_ZZZZ.pdf")
	require.Nil(t, perr)
	assert.Equal(t, DocTypeOther, id.DocumentType)
}

func TestParseNormalizesDiacriticsAndHonorifics(t *testing.T) {
	id, perr := Parse("77_GARCÍA LÓPEZ, DR. JUAN CARLOS_IMG.pdf")
	require.Nil(t, perr)

	assert.Equal(t, "juan carlos garcia lopez", id.FullName)
	// Raw fields keep the original casing and marks for audit.
	assert.Equal(t, "GARCÍA LÓPEZ", id.RawSurnames)
	assert.Equal(t, "DR. JUAN CARLOS", id.RawGivenNames)
	assert.Equal(t, DocTypeImaging, id.DocumentType)
}

func TestParseFailureReasons(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		reason   ParseReason
	}{
		{"free-form name", "consulta_sin_formato.pdf", ReasonUnrecognizedStructure},
		{"missing comma", "123_GARZA TIJERINA MARIA_CONS.pdf", ReasonMissingComma},
		{"non-numeric id", "ABC_GARZA, MARIA_CONS.pdf", ReasonInvalidID},
		{"bad extension", "123_GARZA, MARIA_CONS.exe", ReasonBadExtension},
		{"empty", "", ReasonUnrecognizedStructure},
		{"no underscores", "recordatorio.pdf", ReasonUnrecognizedStructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, perr := Parse(tt.filename)
			assert.Nil(t, id)
			require.NotNil(t, perr)
			assert.Equal(t, tt.reason, perr.Reason)
			assert.NotEmpty(t, perr.Suggestion)
			assert.NotEmpty(t, perr.Error())
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		surnames, given, recordID, secondary string
	}{
		{"GARZA TIJERINA", "MARIA ESTHER", "3000003799", "123456"},
		{"LOPEZ", "ANA", "42", ""},
		{"DE LA CRUZ RAMIREZ", "JUAN PABLO", "900001", "7"},
	}
	for _, tt := range tests {
		original := &PatientIdentity{
			ExternalRecordID:      tt.recordID,
			RawSurnames:           tt.surnames,
			RawGivenNames:         tt.given,
			SecondaryRecordNumber: tt.secondary,
		}
		filename := FormatFilename(original, "CONS", "pdf")
		parsed, perr := Parse(filename)
		require.Nil(t, perr, "round-trip filename %q should parse", filename)

		assert.Equal(t, tt.recordID, parsed.ExternalRecordID)
		assert.Equal(t, tt.surnames, parsed.RawSurnames)
		assert.Equal(t, tt.given, parsed.RawGivenNames)
		assert.Equal(t, tt.secondary, parsed.SecondaryRecordNumber)
		assert.Equal(t, NormalizeName(tt.given+" "+tt.surnames), parsed.FullName)
	}
}

func TestParseBatchIsPureFanOut(t *testing.T) {
	filenames := []string{
		"1_A, B_CONS.pdf",
		"2_C, D_LAB.pdf",
		"consulta_sin_formato.pdf",
	}
	results := ParseBatch(filenames)
	require.Len(t, results, 3)

	assert.NotNil(t, results["1_A, B_CONS.pdf"].Identity)
	assert.NotNil(t, results["2_C, D_LAB.pdf"].Identity)
	assert.NotNil(t, results["consulta_sin_formato.pdf"].Err)
}

func TestParseBatchEmpty(t *testing.T) {
	assert.Empty(t, ParseBatch(nil))
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"GARCÍA LÓPEZ, Juan", "garcia lopez juan"},
		{"Dr. José  Pérez", "jose perez"},
		{"  Lic.   ANA MARÍA  ", "ana maria"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in))
	}
}
