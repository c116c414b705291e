package wallet

import "context"

// FakeBalancer is a Balancer for tests.
type FakeBalancer struct {
	Addr string
	AR   float64
	Err  error
}

func (f *FakeBalancer) Address() string { return f.Addr }

func (f *FakeBalancer) Balance(_ context.Context) (float64, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	return f.AR, nil
}

var _ Balancer = (*FakeBalancer)(nil)
