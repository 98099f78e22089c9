package vertex

import (
	"testing"

	"cloud.google.com/go/vertexai/genai"
)

func TestResponseTextConcatenatesParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}},
	}}}
	got, err := responseText(resp)
	if err != nil {
		t.Fatalf("responseText: %v", err)
	}
	if got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestResponseTextRejectsEmpty(t *testing.T) {
	cases := []*genai.GenerateContentResponse{
		nil,
		{},
		{Candidates: []*genai.Candidate{{}}},
		{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Blob{MIMEType: "image/png"}}}}}},
	}
	for i, resp := range cases {
		if _, err := responseText(resp); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestClampUnit(t *testing.T) {
	if clampUnit(-0.2) != 0 || clampUnit(1.4) != 1 || clampUnit(0.5) != 0.5 {
		t.Fatalf("clampUnit out of range")
	}
}
