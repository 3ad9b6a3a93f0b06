package transcriber

// MessageHandler receives every inbound text message in arrival order, one
// call at a time, on a goroutine owned by the client. A returned error or a
// panic is reported as a HandlerError and does not affect the connection.
type MessageHandler interface {
	HandleMessage(msg string) error
}

type HandlerFunc func(msg string) error

func (f HandlerFunc) HandleMessage(msg string) error { return f(msg) }
