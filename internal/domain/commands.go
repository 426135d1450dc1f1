package domain

// CommandDef describes a slash command available to the user.
type CommandDef struct {
	Name        string
	Description string
	Hidden      bool // reachable but left out of the Telegram command menu
}

// CommandDefs is the single source of truth for all slash commands.
var CommandDefs = []CommandDef{
	{Name: "/start", Description: "Start bot"},
	{Name: "/search", Description: "Search on SoundCloud"},
	{Name: "/likes", Description: "Get user's liked tracks"},
	{Name: "/history", Description: "Show your recent downloads"},
	{Name: "/cancel", Description: "Cancel the pending prompt"},
	{Name: "/help", Description: "Show available commands", Hidden: true},
}

// MenuCommands returns the commands registered in the Telegram command menu.
func MenuCommands() []CommandDef {
	var cmds []CommandDef
	for _, c := range CommandDefs {
		if c.Hidden {
			continue
		}
		cmds = append(cmds, c)
	}
	return cmds
}

// IsKnownCommand reports whether name (with leading slash) is a registered command.
func IsKnownCommand(name string) bool {
	for _, c := range CommandDefs {
		if c.Name == name {
			return true
		}
	}
	return false
}
