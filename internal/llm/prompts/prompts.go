package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/gradedesk/internal/model"
)

// maxAnswerRunes bounds the recognized text passed to the model.
const maxAnswerRunes = 4000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

//go:embed explain.txt
var explainSource string

var (
	loadOnce    sync.Once
	loadErr     error
	explainTmpl *template.Template
)

// ExplainData holds template data for the error analysis prompt.
type ExplainData struct {
	Index          int
	Type           model.QuestionType
	KnowledgePoint string
	MaxScore       int
	StandardAnswer string
	Answer         string
}

func load() error {
	loadOnce.Do(func() {
		t, err := template.New("explain").Parse(explainSource)
		if err != nil {
			loadErr = errors.New("failed to parse explain prompt: " + err.Error())
			return
		}
		explainTmpl = t
	})
	return loadErr
}

// BuildExplainPrompt renders the error analysis prompt for one incorrect answer.
func BuildExplainPrompt(q model.Question, answerText string) (string, error) {
	if err := load(); err != nil {
		return "", err
	}

	data := ExplainData{
		Index:          q.Index,
		Type:           q.Type,
		KnowledgePoint: q.KnowledgePoint,
		MaxScore:       q.MaxScore,
		StandardAnswer: q.StandardAnswer,
		Answer:         sanitizeAnswer(answerText),
	}

	var buf bytes.Buffer
	if err := explainTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer recognized]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Text truncated due to length]"
	}

	return answer
}
