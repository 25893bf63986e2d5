package service

import (
	"regexp"
	"strings"
)

var (
	fenceStart = regexp.MustCompile("(?is)^\\s*```[a-z]*\\s*")
	fenceEnd   = regexp.MustCompile("(?is)\\s*```\\s*$")
)

// cleanGeneratedText normaliza la salida del LLM antes de entregarla: quita
// BOM, fences de markdown y comillas envolventes que algunos modelos agregan
// alrededor del mensaje completo.
func cleanGeneratedText(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	s = strings.TrimPrefix(s, "\uFEFF")
	s = fenceStart.ReplaceAllString(s, "")
	s = fenceEnd.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	// Comillas envolventes solo si cierran el mensaje entero.
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' && !strings.Contains(s[1:len(s)-1], "\"") {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
