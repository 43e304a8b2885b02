package generate

import "fmt"

// ConceptPrompt asks for thesis topic proposals within a field of study. The
// completion must be a JSON array of {title, description} objects.
func ConceptPrompt(field string) string {
	return fmt.Sprintf(`You are an academic research advisor. Propose 3 distinct thesis topic concepts for the field of study %q.
Respond with a JSON array only, no prose, where each element has the shape {"title": string, "description": string}.
The description should be one or two sentences motivating the topic.`, field)
}

// AnalysisPrompt asks for a structured reading of pasted source text. The
// completion must be a single JSON object with bibliographic and findings
// fields.
func AnalysisPrompt(text string) string {
	return fmt.Sprintf(`You are a literature review assistant. Analyze the following source text and extract its key facts.
Respond with a JSON object only, no prose, with exactly these string fields:
"title", "author", "year", "method", "result", "conclusion".
Use an empty string for anything the text does not state.

Source text:
%s`, text)
}

// ContinuationPrompt asks the model to extend a chapter draft. The completion
// is used verbatim.
func ContinuationPrompt(draft string) string {
	return fmt.Sprintf(`You are an academic writing assistant. Continue the following thesis chapter draft in the same voice and register.
Respond with the continuation text only, no preamble and no markdown fences.

Draft so far:
%s`, draft)
}
