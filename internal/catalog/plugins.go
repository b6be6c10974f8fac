package catalog

// Plugin installs one or more descriptors into a registry. Host startup code
// calls Install with plugins in a fixed order.
type Plugin interface {
	RegisterInto(r *Registry)
}

// PluginFunc adapts a function into a Plugin.
type PluginFunc func(r *Registry)

func (f PluginFunc) RegisterInto(r *Registry) { f(r) }

// Install registers every plugin in order.
func Install(r *Registry, plugins ...Plugin) {
	for _, p := range plugins {
		if p != nil {
			p.RegisterInto(r)
		}
	}
}

// TriviaPlugin registers the trivia quiz game.
type TriviaPlugin struct {
	BaseURL string
	Rules   []Rule
}

func (p TriviaPlugin) RegisterInto(r *Registry) {
	r.Register(MustDescriptor(Spec{
		Name:            "trivia",
		Title:           "Trivia Challenge",
		BaseURL:         p.BaseURL,
		Icon:            "🧠",
		DisplayGradient: "linear-gradient(135deg, #667eea 0%, #764ba2 100%)",
		ReadyEventName:  "trivia-ready",
		Difficulty:      "medium",
		MiniGameType:    "trivia",
	}, p.Rules...))
}

// PuzzlePlugin registers the maze puzzle game.
type PuzzlePlugin struct {
	BaseURL string
	Rules   []Rule
}

func (p PuzzlePlugin) RegisterInto(r *Registry) {
	r.Register(MustDescriptor(Spec{
		Name:            "puzzle",
		Title:           "Maze Puzzle",
		BaseURL:         p.BaseURL,
		Icon:            "🧩",
		DisplayGradient: "linear-gradient(135deg, #f093fb 0%, #f5576c 100%)",
		ReadyEventName:  "puzzle-ready",
		Difficulty:      "easy",
		MiniGameType:    "maze",
	}, p.Rules...))
}

// BuiltinPlugins returns the pre-registered games sharing one base URL and
// rule set.
func BuiltinPlugins(baseURL string, rules func() []Rule) []Plugin {
	if rules == nil {
		rules = func() []Rule { return nil }
	}
	return []Plugin{
		TriviaPlugin{BaseURL: baseURL, Rules: rules()},
		PuzzlePlugin{BaseURL: baseURL, Rules: rules()},
	}
}
