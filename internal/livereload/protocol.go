package livereload

// ProtocolV7 is the LiveReload protocol the server speaks.
const ProtocolV7 = "http://livereload.com/protocols/official-7"

// Message commands.
const (
	CommandHello  = "hello"
	CommandReload = "reload"
	CommandAlert  = "alert"
	CommandInfo   = "info"
)

// Message is the JSON envelope exchanged with browser clients. Fields a
// command does not use are omitted.
type Message struct {
	Command    string   `json:"command"`
	Protocols  []string `json:"protocols,omitempty"`
	ServerName string   `json:"serverName,omitempty"`
	Path       string   `json:"path,omitempty"`
	LiveCSS    bool     `json:"liveCSS,omitempty"`
	Message    string   `json:"message,omitempty"`

	// URL is sent by clients with the info command.
	URL string `json:"url,omitempty"`
}

func helloMessage(serverName string) Message {
	return Message{
		Command:    CommandHello,
		Protocols:  []string{ProtocolV7},
		ServerName: serverName,
	}
}

func reloadMessage(path string) Message {
	return Message{Command: CommandReload, Path: path, LiveCSS: true}
}

func alertMessage(text string) Message {
	return Message{Command: CommandAlert, Message: text}
}
