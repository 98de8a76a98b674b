package event

// ChannelOption configures a Channel.
type ChannelOption func(*channelConfig)

type channelConfig struct {
	inspector Inspector
	scheduler Scheduler
	runner    Runner
}

func defaultChannelConfig() channelConfig {
	return channelConfig{
		inspector: SelfInspector(),
		runner:    InlineRunner(),
	}
}

// WithInspector sets the inspector used at registration.
func WithInspector(i Inspector) ChannelOption {
	return func(c *channelConfig) {
		if i != nil {
			c.inspector = i
		}
	}
}

// WithScheduler sets the scheduler that receives async consumers.
// Without one, async callables are rejected at registration.
func WithScheduler(s Scheduler) ChannelOption {
	return func(c *channelConfig) {
		c.scheduler = s
	}
}

// WithRunner sets the runner for synchronous consumers.
func WithRunner(r Runner) ChannelOption {
	return func(c *channelConfig) {
		if r != nil {
			c.runner = r
		}
	}
}
