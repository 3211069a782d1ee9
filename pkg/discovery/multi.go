package discovery

import (
	"context"
	"sort"
	"sync"
)

// Multi merges several adapters into one discovery stream. Each child's
// latest snapshot is kept separately; any child update emits the union.
type Multi struct {
	adapters []Adapter
}

func NewMulti(adapters ...Adapter) *Multi {
	return &Multi{adapters: adapters}
}

// Announce is ambiguous across children and not needed by listeners.
func (m *Multi) Announce(ctx context.Context, device DeviceInfo) error {
	return ErrAnnounceUnsupported
}

func (m *Multi) Discover(ctx context.Context) <-chan Result {
	out := make(chan Result, 10)

	var (
		mu        sync.Mutex
		snapshots = make([][]DeviceInfo, len(m.adapters))
	)

	emit := func() {
		mu.Lock()
		var union []DeviceInfo
		for _, snapshot := range snapshots {
			union = append(union, snapshot...)
		}
		mu.Unlock()
		sort.Slice(union, func(i, j int) bool {
			if union[i].Transport != union[j].Transport {
				return union[i].Transport < union[j].Transport
			}
			return union[i].ID < union[j].ID
		})

		select {
		case out <- Result{Devices: union}:
		default:
		}
	}

	var wg sync.WaitGroup
	for i, adapter := range m.adapters {
		wg.Add(1)
		go func(i int, adapter Adapter) {
			defer wg.Done()
			for res := range adapter.Discover(ctx) {
				if res.Err != nil {
					select {
					case out <- Result{Err: res.Err}:
					default:
					}
					continue
				}
				mu.Lock()
				snapshots[i] = res.Devices
				mu.Unlock()
				emit()
			}
		}(i, adapter)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
