package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type InMemoryCacheSuite struct {
	suite.Suite
	cache *InMemoryCache
	ctx   context.Context
}

func TestInMemoryCacheSuite(t *testing.T) {
	suite.Run(t, new(InMemoryCacheSuite))
}

func (s *InMemoryCacheSuite) SetupTest() {
	s.cache = NewInMemoryCache()
	s.ctx = context.Background()
}

func (s *InMemoryCacheSuite) TestGet() {
	s.Run("absent key", func() {
		v, found, err := s.cache.Get(s.ctx, "payment:missing")
		s.Require().NoError(err)
		s.False(found)
		s.Empty(v)
	})

	s.Run("present key", func() {
		_, err := s.cache.CreateIfAbsent(s.ctx, "payment:p1", `{"paymentId":"p1"}`)
		s.Require().NoError(err)

		v, found, err := s.cache.Get(s.ctx, "payment:p1")
		s.Require().NoError(err)
		s.True(found)
		s.Equal(`{"paymentId":"p1"}`, v)
	})
}

func (s *InMemoryCacheSuite) TestCreateIfAbsent_NeverOverwrites() {
	created, err := s.cache.CreateIfAbsent(s.ctx, "payment:p1", "first")
	s.Require().NoError(err)
	s.True(created)

	created, err = s.cache.CreateIfAbsent(s.ctx, "payment:p1", "second")
	s.Require().NoError(err)
	s.False(created)

	v, _, _ := s.cache.Get(s.ctx, "payment:p1")
	s.Equal("first", v)
}

func (s *InMemoryCacheSuite) TestCreateIfAbsent_ConcurrentSingleWinner() {
	const racers = 64
	var wg sync.WaitGroup
	var wins atomic.Int32
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.cache.CreateIfAbsent(s.ctx, "payment:race", "v")
			if err == nil && created {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(1, s.cache.Len())
}

func (s *InMemoryCacheSuite) TestListByPrefixAndDelete() {
	for _, k := range []string{"payment:b", "payment:a", "session:x"} {
		_, err := s.cache.CreateIfAbsent(s.ctx, k, "v")
		s.Require().NoError(err)
	}

	keys, err := s.cache.ListByPrefix(s.ctx, "payment:")
	s.Require().NoError(err)
	s.Equal([]string{"payment:a", "payment:b"}, keys)

	s.Require().NoError(s.cache.Delete(s.ctx, "payment:a"))
	s.Require().NoError(s.cache.Delete(s.ctx, "payment:absent"))

	keys, err = s.cache.ListByPrefix(s.ctx, "payment:")
	s.Require().NoError(err)
	s.Equal([]string{"payment:b"}, keys)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `payment:`, escapeGlob("payment:"))
	assert.Equal(t, `pay\*ment\?\[x\]`, escapeGlob("pay*ment?[x]"))
}
