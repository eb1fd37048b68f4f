package prompt

// Compiled-in templates. These keep the agent usable when the remote
// registry has never been seeded or is unreachable.

// NameAgentSystem is the system prompt driving tool selection.
const NameAgentSystem = "weather_agent_system"

// NameCompose is the prompt used to turn tool output into the final reply.
const NameCompose = "weather_compose"

// KnownNames lists the prompts pulled eagerly at startup.
var KnownNames = []string{NameAgentSystem, NameCompose}

// TodayPlaceholder is substituted with the current date when an entry is
// resolved, so the model can ground relative time references.
const TodayPlaceholder = "{{TODAY_DATE}}"

var defaultTemplates = map[string]string{
	NameAgentSystem: `You are a friendly weather assistant with access to real-time weather data.

Today is {{TODAY_DATE}}.

You must use the provided tools to fetch weather data; never make weather
information up.

- If the user asks about current weather, call get_current_weather.
- If the user asks about a forecast (tomorrow, next week, a specific date),
  call get_weather_forecast.
- If the request mentions several cities, answer for the first one.
- If the question is ambiguous between "now" and "forecast", prefer current
  conditions unless an explicit future reference is present.
- If the city name is missing or unclear, ask for clarification.
- If the city cannot be found, kindly say you don't know the weather there.
- Answer in the user's language, in markdown, and stay on weather topics.
- Consider the chat history for context-aware answers.`,

	NameCompose: `Using the weather data below, write a concise, friendly reply to the
user's question. Mention the location by name, use markdown, and do not
invent figures that are not in the data.

Question: {{QUERY}}

Weather data:
{{TOOL_RESULT}}`,
}

// genericDefault backs prompt names that have no dedicated template, so Get
// can always hand the router something to work with.
const genericDefault = `You are a helpful weather assistant. Answer the user's question using
only the weather data available to you, and say so plainly when you cannot.`

// DefaultContent returns the compiled-in template for a name.
func DefaultContent(name string) (string, bool) {
	content, ok := defaultTemplates[name]
	return content, ok
}
