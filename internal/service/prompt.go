package service

import "fmt"

const systemPrompt = "You answer questions using only the document context you are given. " +
	"If the context does not contain the answer, say so plainly instead of guessing."

// buildPrompt returns the system and user messages for one question.
func buildPrompt(context, question string) (string, string) {
	user := fmt.Sprintf("Answer the question based only on the context below. "+
		"If the answer is not in the context, say that it cannot be found in the document.\n\n"+
		"Context:\n%s\n\nQuestion: %s", context, question)
	return systemPrompt, user
}
