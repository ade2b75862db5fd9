package api

// Header names of the bot authentication scheme.
const (
	HeaderBotID      = "x-rpc-bot_id"
	HeaderBotSecret  = "x-rpc-bot_secret"
	HeaderBotVillaID = "x-rpc-bot_villa_id"
)

// Ticket is the long-lived credential pair of a bot. It is never mutated
// after construction.
type Ticket struct {
	BotID  string `json:"botId" yaml:"botId"`
	Secret string `json:"-" yaml:"-"`
}

// Headers returns the authentication headers for a request made on behalf of
// villaID. An empty villaID omits the villa header.
func (t Ticket) Headers(villaID string) map[string]string {
	h := map[string]string{
		HeaderBotID:     t.BotID,
		HeaderBotSecret: t.Secret,
	}
	if villaID != "" {
		h[HeaderBotVillaID] = villaID
	}
	return h
}

// String hides the secret.
func (t Ticket) String() string {
	return "Ticket(" + t.BotID + ")"
}
