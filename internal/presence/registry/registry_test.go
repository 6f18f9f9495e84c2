package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "payhub/pkg/domain"
)

type RegistrySuite struct {
	suite.Suite
	reg *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.reg = New()
}

func (s *RegistrySuite) TestRegisterOrResume() {
	s.Run("new connection gets a fresh user id", func() {
		connID := id.NewConnectionID()
		res := s.reg.RegisterOrResume(connID)

		s.True(res.Created)
		s.False(res.UserID.IsNil())
		s.Contains(res.Users, res.UserID)
		s.Contains(res.Connections, connID)

		got, ok := s.reg.Resolve(res.UserID)
		s.True(ok)
		s.Equal(connID, got)
	})

	s.Run("repeat handshake on same connection returns same user", func() {
		connID := id.NewConnectionID()
		first := s.reg.RegisterOrResume(connID)
		before := s.reg.Len()

		second := s.reg.RegisterOrResume(connID)

		s.False(second.Created)
		s.Equal(first.UserID, second.UserID)
		s.Equal(before, s.reg.Len())
	})

	s.Run("always returns the full active set", func() {
		reg := New()
		a := reg.RegisterOrResume(id.NewConnectionID())
		b := reg.RegisterOrResume(id.NewConnectionID())

		s.ElementsMatch([]id.UserID{a.UserID, b.UserID}, b.Users)
		s.Len(b.Connections, 2)
	})
}

func (s *RegistrySuite) TestUnregister() {
	s.Run("removes the owning session", func() {
		connA := id.NewConnectionID()
		connB := id.NewConnectionID()
		a := s.reg.RegisterOrResume(connA)
		s.reg.RegisterOrResume(connB)

		userID, remaining, ok := s.reg.Unregister(connA)

		s.True(ok)
		s.Equal(a.UserID, userID)
		s.NotContains(remaining, connA)
		s.Contains(remaining, connB)
		_, online := s.reg.Resolve(a.UserID)
		s.False(online)
	})

	s.Run("unknown connection is a no-op", func() {
		before := s.reg.Len()
		_, remaining, ok := s.reg.Unregister(id.NewConnectionID())

		s.False(ok)
		s.Len(remaining, before)
		s.Equal(before, s.reg.Len())
	})
}

func (s *RegistrySuite) TestResume() {
	s.Run("rebinds a known user to the new connection", func() {
		oldConn := id.NewConnectionID()
		issued := s.reg.RegisterOrResume(oldConn)
		s.reg.Unregister(oldConn)

		newConn := id.NewConnectionID()
		res := s.reg.Resume(newConn, issued.UserID)

		s.True(res.Resumed)
		s.Equal(issued.UserID, res.UserID)
		got, ok := s.reg.Resolve(issued.UserID)
		s.True(ok)
		s.Equal(newConn, got)
	})

	s.Run("replaces a stale live binding", func() {
		oldConn := id.NewConnectionID()
		issued := s.reg.RegisterOrResume(oldConn)

		newConn := id.NewConnectionID()
		res := s.reg.Resume(newConn, issued.UserID)

		s.True(res.Resumed)
		_, stillBound := s.reg.Owner(oldConn)
		s.False(stillBound)

		// The late close of the stale connection must not evict the resumed session.
		_, _, ok := s.reg.Unregister(oldConn)
		s.False(ok)
		got, online := s.reg.Resolve(issued.UserID)
		s.True(online)
		s.Equal(newConn, got)
	})

	s.Run("unknown user id gets a fresh identity", func() {
		stranger := id.UserID(uuid.New())
		res := s.reg.Resume(id.NewConnectionID(), stranger)

		s.False(res.Resumed)
		s.True(res.Created)
		s.NotEqual(stranger, res.UserID)
	})
}

func (s *RegistrySuite) TestResumeWindow() {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	reg := New(WithResumeWindow(time.Minute), WithClock(func() time.Time { return now }))

	s.Run("resumable within the window", func() {
		conn := id.NewConnectionID()
		issued := reg.RegisterOrResume(conn)
		reg.Unregister(conn)

		now = now.Add(59 * time.Second)
		res := reg.Resume(id.NewConnectionID(), issued.UserID)
		s.True(res.Resumed)
		s.Equal(issued.UserID, res.UserID)
	})

	s.Run("expired ids get a fresh identity", func() {
		conn := id.NewConnectionID()
		issued := reg.RegisterOrResume(conn)
		reg.Unregister(conn)

		now = now.Add(61 * time.Second)
		res := reg.Resume(id.NewConnectionID(), issued.UserID)
		s.False(res.Resumed)
		s.NotEqual(issued.UserID, res.UserID)
	})
}

func (s *RegistrySuite) TestReleasedIDsAreSwept() {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	reg := New(WithResumeWindow(time.Minute), WithClock(func() time.Time { return now }))

	for range 100 {
		conn := id.NewConnectionID()
		reg.RegisterOrResume(conn)
		reg.Unregister(conn)
	}
	s.Equal(100, reg.Known())

	// The next disconnect after the window sweeps every expired id.
	now = now.Add(2 * time.Minute)
	online := id.NewConnectionID()
	reg.RegisterOrResume(online)
	last := id.NewConnectionID()
	reg.RegisterOrResume(last)
	reg.Unregister(last)

	s.Equal(2, reg.Known(), "only the online user and the just-released one remain")
	s.Equal(1, reg.Len())
}

func (s *RegistrySuite) TestAllocationSkipsCollisions() {
	fixed := id.UserID(uuid.MustParse("6f1c7f1e-8a3b-4b8e-9a57-2d0c0b5e9c11"))
	next := id.UserID(uuid.MustParse("0b9d8a27-3c4e-4f5a-8b6c-7d8e9f0a1b2c"))
	calls := 0
	reg := New(WithIDGenerator(func() id.UserID {
		calls++
		if calls <= 2 {
			return fixed
		}
		return next
	}))

	a := reg.RegisterOrResume(id.NewConnectionID())
	b := reg.RegisterOrResume(id.NewConnectionID())

	s.Equal(fixed, a.UserID)
	s.Equal(next, b.UserID)
}

// N concurrent handshakes yield N distinct user ids; one disconnect leaves N-1.
func (s *RegistrySuite) TestConcurrentHandshakesAndDisconnect() {
	const n = 200
	conns := make([]id.ConnectionID, n)
	for i := range conns {
		conns[i] = id.NewConnectionID()
	}

	var wg sync.WaitGroup
	results := make([]HandshakeResult, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.reg.RegisterOrResume(conns[i])
		}()
	}
	wg.Wait()

	seen := make(map[id.UserID]struct{}, n)
	for _, res := range results {
		seen[res.UserID] = struct{}{}
	}
	s.Len(seen, n)
	s.Equal(n, s.reg.Len())

	_, remaining, ok := s.reg.Unregister(conns[0])
	s.True(ok)
	s.Len(remaining, n-1)
	s.Len(s.reg.Users(), n-1)
}

// Handshakes racing on the same connection never create two sessions.
func (s *RegistrySuite) TestConcurrentHandshakesSameConnection() {
	connID := id.NewConnectionID()
	const n = 50

	var wg sync.WaitGroup
	users := make([]id.UserID, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			users[i] = s.reg.RegisterOrResume(connID).UserID
		}()
	}
	wg.Wait()

	for _, u := range users {
		s.Equal(users[0], u)
	}
	s.Equal(1, s.reg.Len())
}

func (s *RegistrySuite) TestSessionsSnapshot() {
	connID := id.NewConnectionID()
	res := s.reg.RegisterOrResume(connID)

	sessions := s.reg.Sessions()
	s.Require().Len(sessions, 1)
	s.Equal(Session{UserID: res.UserID, ConnectionID: connID}, sessions[0])
	s.Equal([]id.ConnectionID{connID}, s.reg.Connections())
	s.Equal([]id.UserID{res.UserID}, s.reg.Users())
}
