package extraction

import "github.com/dharsanguruparan/AthleteDocs/internal/model"

type fieldKind int

const (
	kindText fieldKind = iota
	kindName
	kindDate
)

type field struct {
	name string
	kind fieldKind
}

// documentFields is the fixed field list per type. The order is kept in the
// prompt so the model sees the same layout on every call.
var documentFields = map[model.DocumentType][]field{
	model.DocBirthCertificate: {
		{"full_name", kindName},
		{"date_of_birth", kindDate},
		{"place_of_birth", kindText},
		{"father_name", kindName},
		{"mother_name", kindName},
		{"registration_number", kindText},
		{"registration_date", kindDate},
		{"issuing_authority", kindText},
	},
	model.DocCitizenshipCertificate: {
		{"full_name", kindName},
		{"citizenship_number", kindText},
		{"date_of_birth", kindDate},
		{"place_of_birth", kindText},
		{"father_name", kindName},
		{"mother_name", kindName},
		{"permanent_address", kindText},
		{"issue_date", kindDate},
		{"issuing_authority", kindText},
	},
	model.DocSchoolID: {
		{"full_name", kindName},
		{"student_id", kindText},
		{"school_name", kindText},
		{"grade", kindText},
		{"date_of_birth", kindDate},
		{"issue_date", kindDate},
		{"expiry_date", kindDate},
	},
	model.DocUnknown: {},
}

// Fields returns the declared field names for a document type.
func Fields(t model.DocumentType) []string {
	list := documentFields[t]
	out := make([]string, len(list))
	for i, f := range list {
		out[i] = f.name
	}
	return out
}

func fieldsOfKind(t model.DocumentType, kind fieldKind) []string {
	var out []string
	for _, f := range documentFields[t] {
		if f.kind == kind {
			out = append(out, f.name)
		}
	}
	return out
}

// futureDateAllowed lists date fields that may legitimately lie after today.
var futureDateAllowed = map[string]bool{"expiry_date": true}
