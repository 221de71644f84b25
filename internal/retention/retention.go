package retention

import (
	"context"
	"log"
	"sync"
	"time"
)

// Pruner is the slice of the store the retention service needs.
type Pruner interface {
	ChatRoomIDs(ctx context.Context) ([]int64, error)
	PruneChats(ctx context.Context, roomID int64, keep int) (int64, error)
}

type Config struct {
	Interval     time.Duration
	KeepMessages int
}

func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Minute,
		KeepMessages: 500,
	}
}

// Service trims each room's chat history down to the newest KeepMessages.
type Service struct {
	store    Pruner
	config   Config
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(store Pruner, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Service{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("🧹 Chat retention started (interval: %v, keep: %d per room)",
		s.config.Interval, s.config.KeepMessages)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	log.Println("🧹 Chat retention stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.pruneAllRooms()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.pruneAllRooms()
		}
	}
}

func (s *Service) pruneAllRooms() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
	defer cancel()

	removed, err := s.PruneNow(ctx)
	if err != nil {
		log.Printf("Retention: %v", err)
	}
	if removed > 0 {
		log.Printf("🧹 Pruned %d chat messages", removed)
	}
}

// PruneNow runs one pass over every room with chat history. A failure on
// one room is logged and does not stop the others; only a failure to list
// rooms is returned.
func (s *Service) PruneNow(ctx context.Context) (int64, error) {
	if s.config.KeepMessages <= 0 {
		return 0, nil
	}

	rooms, err := s.store.ChatRoomIDs(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, roomID := range rooms {
		n, err := s.store.PruneChats(ctx, roomID, s.config.KeepMessages)
		if err != nil {
			log.Printf("Retention: failed for room %d: %v", roomID, err)
			continue
		}
		total += n
	}
	return total, nil
}
