package session

// Notifier receives the two outbound notification streams. Progress carries
// coarse status lines; Result carries answer fragments and outcome lines.
type Notifier interface {
	Progress(msg string)
	Result(msg string)
}

// ChannelNotifier delivers notifications on buffered channels. Sends block
// when a buffer is full, so a slow consumer slows the session down instead
// of losing or reordering messages.
type ChannelNotifier struct {
	progress chan string
	result   chan string
}

// NewChannelNotifier creates a notifier with the given buffer size per channel.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{
		progress: make(chan string, buffer),
		result:   make(chan string, buffer),
	}
}

func (n *ChannelNotifier) Progress(msg string) { n.progress <- msg }
func (n *ChannelNotifier) Result(msg string)   { n.result <- msg }

// ProgressC is the progress stream.
func (n *ChannelNotifier) ProgressC() <-chan string { return n.progress }

// ResultC is the result stream.
func (n *ChannelNotifier) ResultC() <-chan string { return n.result }

// Close ends both streams. No notification may be sent afterwards.
func (n *ChannelNotifier) Close() {
	close(n.progress)
	close(n.result)
}

// FuncNotifier adapts two functions to Notifier; nil functions drop messages.
type FuncNotifier struct {
	OnProgress func(string)
	OnResult   func(string)
}

func (f FuncNotifier) Progress(msg string) {
	if f.OnProgress != nil {
		f.OnProgress(msg)
	}
}

func (f FuncNotifier) Result(msg string) {
	if f.OnResult != nil {
		f.OnResult(msg)
	}
}
