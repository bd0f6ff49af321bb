package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"cepal-chatbot/internal/domain"
)

// DefaultModel is the Groq-hosted model the assistant runs on.
const DefaultModel = "llama-3.3-70b-versatile"

var background = []string{
	strings.Join([]string{
		"Eres un asistente IA para la Comisión Económica para América Latina y el Caribe de las Naciones Unidas.",
		"La Comisión Económica para América Latina (CEPAL) fue establecida por la resolución 106 (VI) del Consejo Económico y Social, del 25 de febrero de 1948,",
		"y comenzó a funcionar ese mismo año. En su resolución 1984/67, del 27 de julio de 1984, el Consejo decidió que la Comisión pasara a llamarse Comisión Económica",
		"para América Latina y el Caribe.",
		"La CEPAL es una de las cinco comisiones regionales de las Naciones Unidas y su sede está en Santiago de Chile. Se fundó para contribuir al desarrollo económico",
		"de América Latina, coordinar las acciones encaminadas a su promoción y reforzar las relaciones económicas de los países entre sí y con las demás naciones del",
		"mundo. Posteriormente, su labor se amplió a los países del Caribe y se incorporó el objetivo de promover el desarrollo social.",
		"La CEPAL tiene dos sedes subregionales, una para la subregión de América Central, ubicada en México, D.F. y la otra para la subregión del Caribe, en Puerto España,",
		"que se establecieron en junio de 1951 y en diciembre de 1966, respectivamente. Además tiene oficinas nacionales en Buenos Aires, Brasilia, Montevideo y Bogotá y",
		"una oficina de enlace en Washington, D.C.",
	}, "\n"),
}

var steps = []string{
	"Analyze the user's input to understand the context and intent.",
	"Formulate a relevant and informative response based on the assistant's knowledge.",
	"Generate 3 suggested follow-up questions for the user to explore the topic further.",
	"Default answer in Spanish, unless user request you to answer in other languages",
}

var outputInstructions = []string{
	"Provide clear, concise, and accurate information in response to user queries.",
	"Maintain a friendly and professional tone throughout the conversation.",
	"Conclude each response with 3 relevant suggested questions for the user.",
	"No contestes a preguntas que no sean del contexto de la CEPAL, si hay preguntas fuera del contexto hazlo saber al usuario.",
	"No inventes respuestas que no conoces, simplemente indica que no tienes mayor información al respecto",
}

// buildSystemPrompt renders the fixed persona, the assistant steps, the
// output rules and the JSON output contract.
func buildSystemPrompt() string {
	sections := []struct {
		title string
		lines []string
	}{
		{"IDENTITY and PURPOSE", background},
		{"INTERNAL ASSISTANT STEPS", steps},
		{"OUTPUT INSTRUCTIONS", append(append([]string{}, outputInstructions...),
			"Always respond using the proper JSON schema.",
			"Always use the available additional information and context to enhance the response.",
		)},
	}

	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "# %s\n", s.title)
		for _, line := range s.lines {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}
	b.WriteString("# OUTPUT CONTRACT\n")
	b.WriteString(outputContract())
	return b.String()
}

func outputContract() string {
	return "Return a single JSON object and nothing else, with exactly these keys: " +
		"chat_message (string, the reply shown to the user) and " +
		"suggested_user_questions (array of strings, the follow-up questions). " +
		`Example: {"chat_message":"...","suggested_user_questions":["...","...","..."]}`
}

// buildPromptMessages prepends the system prompt to the replayed memory.
// Each entry is sent as the JSON encoding of its schema object.
func buildPromptMessages(systemPrompt string, memory []domain.MemoryEntry) ([]domain.ChatMessage, error) {
	messages := make([]domain.ChatMessage, 0, len(memory)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})

	for i, entry := range memory {
		content, err := memoryContent(entry)
		if err != nil {
			return nil, fmt.Errorf("usecase: memory entry %d: %w", i, err)
		}
		messages = append(messages, domain.ChatMessage{Role: entry.Role, Content: content})
	}
	return messages, nil
}

func memoryContent(entry domain.MemoryEntry) (string, error) {
	var v any
	switch entry.Role {
	case domain.RoleUser:
		if entry.Request == nil {
			return "", fmt.Errorf("user entry without request")
		}
		v = entry.Request
	case domain.RoleAssistant:
		if entry.Response == nil {
			return "", fmt.Errorf("assistant entry without response")
		}
		v = entry.Response
	default:
		return "", fmt.Errorf("unsupported role %q", entry.Role)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
