package daemon

// BeforeStart is an optional hook an App may implement, called before
// any connection is opened.
type BeforeStart interface {
	BeforeStart()
}

// AfterStart is an optional hook an App may implement, called once
// every configured connection has been opened.
type AfterStart interface {
	AfterStart()
}

// BeforeShutdown is an optional hook an App may implement, called
// before any connection is closed.
type BeforeShutdown interface {
	BeforeShutdown()
}

// AfterShutdown is an optional hook an App may implement, called
// after every connection has been closed.
type AfterShutdown interface {
	AfterShutdown()
}
