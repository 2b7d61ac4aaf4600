package transport

// Direction of bytes seen by an Observer.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// Observer receives a copy of every byte crossing a monitored Transport.
// Implementations must not retain p.
type Observer interface {
	Observe(kind Kind, remote string, dir Direction, p []byte)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(kind Kind, remote string, dir Direction, p []byte)

func (f ObserverFunc) Observe(kind Kind, remote string, dir Direction, p []byte) {
	f(kind, remote, dir, p)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) Observe(kind Kind, remote string, dir Direction, p []byte) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(kind, remote, dir, p)
		}
	}
}

type monitored struct {
	Transport
	obs Observer
}

// Monitor wraps t so that obs sees all traffic. A nil observer returns t.
func Monitor(t Transport, obs Observer) Transport {
	if obs == nil {
		return t
	}
	return &monitored{Transport: t, obs: obs}
}

func (m *monitored) Read(p []byte) (int, error) {
	n, err := m.Transport.Read(p)
	if n > 0 {
		m.obs.Observe(m.Kind(), m.RemoteAddr(), Inbound, p[:n])
	}
	return n, err
}

func (m *monitored) Write(p []byte) error {
	if err := m.Transport.Write(p); err != nil {
		return err
	}
	m.obs.Observe(m.Kind(), m.RemoteAddr(), Outbound, p)
	return nil
}
