package database

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"bitespeed/internal/logger"
	"bitespeed/internal/models"
	"bitespeed/internal/service"
	"bitespeed/internal/store"
)

// contactStoreSuite exercises ContactStore against a real engine. open must
// return an empty, migrated database.
type contactStoreSuite struct {
	suite.Suite
	open  func() *DB
	ctx   context.Context
	db    *DB
	store *ContactStore
	clock time.Time
	mu    sync.Mutex
}

func (s *contactStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = s.open()
	s.clock = time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	s.store = NewContactStore(s.db)
	s.store.now = s.tick
}

func (s *contactStoreSuite) tick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func strPtr(v string) *string { return &v }

func (s *contactStoreSuite) create(email, phone *string, linkedID *int64) *models.Contact {
	c := &models.Contact{
		Email:          email,
		PhoneNumber:    phone,
		LinkedID:       linkedID,
		LinkPrecedence: models.LinkPrecedencePrimary,
	}
	if linkedID != nil {
		c.LinkPrecedence = models.LinkPrecedenceSecondary
	}
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx store.ContactTx) error {
		return tx.Create(s.ctx, c)
	}))
	return c
}

func (s *contactStoreSuite) read(fn func(tx store.ContactTx) ([]*models.Contact, error)) []*models.Contact {
	var out []*models.Contact
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx store.ContactTx) error {
		var err error
		out, err = fn(tx)
		return err
	}))
	return out
}

func (s *contactStoreSuite) count() int {
	var n int
	s.Require().NoError(s.db.Conn.QueryRowContext(s.ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n))
	return n
}

func (s *contactStoreSuite) softDelete(id int64) {
	_, err := s.db.Conn.ExecContext(s.ctx, `UPDATE contacts SET deleted_at = $1 WHERE id = $2`, s.tick(), id)
	s.Require().NoError(err)
}

func ids(contacts []*models.Contact) []int64 {
	out := make([]int64, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.ID)
	}
	return out
}

func (s *contactStoreSuite) TestCreateAssignsIdentity() {
	c := s.create(strPtr("lorraine@hillvalley.edu"), strPtr("123456"), nil)

	s.NotZero(c.ID)
	s.Equal(s.clock, c.CreatedAt)
	s.Equal(c.CreatedAt, c.UpdatedAt)

	got := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
		return tx.FindCluster(s.ctx, c.ID)
	})
	s.Require().Len(got, 1)
	s.Equal("lorraine@hillvalley.edu", *got[0].Email)
	s.Equal("123456", *got[0].PhoneNumber)
	s.Equal(models.LinkPrecedencePrimary, got[0].LinkPrecedence)
	s.Nil(got[0].LinkedID)
	s.Nil(got[0].DeletedAt)
	s.True(got[0].CreatedAt.Equal(c.CreatedAt))
}

func (s *contactStoreSuite) TestCreateKeepsNulls() {
	c := s.create(nil, strPtr("555"), nil)

	got := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
		return tx.FindMatching(s.ctx, nil, strPtr("555"))
	})
	s.Require().Len(got, 1)
	s.Equal(c.ID, got[0].ID)
	s.Nil(got[0].Email)
}

func (s *contactStoreSuite) TestFindMatching() {
	a := s.create(strPtr("a@test.com"), strPtr("111"), nil)
	b := s.create(strPtr("b@test.com"), strPtr("222"), nil)
	s.create(strPtr("c@test.com"), strPtr("333"), nil)

	s.Run("by email", func() {
		got := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
			return tx.FindMatching(s.ctx, strPtr("a@test.com"), nil)
		})
		s.Equal([]int64{a.ID}, ids(got))
	})

	s.Run("either value", func() {
		got := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
			return tx.FindMatching(s.ctx, strPtr("b@test.com"), strPtr("111"))
		})
		s.Equal([]int64{a.ID, b.ID}, ids(got))
	})

	s.Run("no values", func() {
		got := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
			return tx.FindMatching(s.ctx, nil, nil)
		})
		s.Empty(got)
	})

	s.Run("skips deleted", func() {
		s.softDelete(a.ID)
		got := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
			return tx.FindMatching(s.ctx, strPtr("a@test.com"), strPtr("111"))
		})
		s.Empty(got)
	})
}

func (s *contactStoreSuite) TestFindClusters() {
	a := s.create(strPtr("a@test.com"), strPtr("111"), nil)
	b := s.create(strPtr("b@test.com"), strPtr("222"), nil)
	a2 := s.create(strPtr("a2@test.com"), strPtr("111"), &a.ID)
	b2 := s.create(strPtr("b2@test.com"), strPtr("222"), &b.ID)
	other := s.create(strPtr("z@test.com"), strPtr("999"), nil)

	got := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
		return tx.FindClusters(s.ctx, []int64{a.ID, b.ID})
	})
	s.Equal([]int64{a.ID, b.ID, a2.ID, b2.ID}, ids(got))

	got = s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
		return tx.FindClusters(s.ctx, nil)
	})
	s.Empty(got)

	got = s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
		return tx.FindCluster(s.ctx, other.ID)
	})
	s.Equal([]int64{other.ID}, ids(got))
}

func (s *contactStoreSuite) TestDemoteAndRelink() {
	a := s.create(strPtr("a@test.com"), strPtr("111"), nil)
	b := s.create(strPtr("b@test.com"), strPtr("222"), nil)
	b2 := s.create(strPtr("b2@test.com"), strPtr("222"), &b.ID)

	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx store.ContactTx) error {
		if err := tx.Demote(s.ctx, b.ID, a.ID); err != nil {
			return err
		}
		return tx.Relink(s.ctx, b.ID, a.ID)
	}))

	got := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
		return tx.FindCluster(s.ctx, a.ID)
	})
	s.Require().Equal([]int64{a.ID, b.ID, b2.ID}, ids(got))
	for _, c := range got[1:] {
		s.Equal(models.LinkPrecedenceSecondary, c.LinkPrecedence)
		s.Require().NotNil(c.LinkedID)
		s.Equal(a.ID, *c.LinkedID)
		s.True(c.UpdatedAt.After(c.CreatedAt))
	}

	s.Empty(s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
		return tx.FindCluster(s.ctx, b.ID)
	})[1:])
}

func (s *contactStoreSuite) TestRollbackOnError() {
	boom := errors.New("boom")
	err := s.store.RunInTx(s.ctx, func(tx store.ContactTx) error {
		if err := tx.Create(s.ctx, &models.Contact{
			Email:          strPtr("gone@test.com"),
			LinkPrecedence: models.LinkPrecedencePrimary,
		}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)
	s.Equal(0, s.count())
}

func (s *contactStoreSuite) TestLockKeys() {
	s.NoError(s.store.RunInTx(s.ctx, func(tx store.ContactTx) error {
		return tx.LockKeys(s.ctx, "email:a@test.com", "phone:111")
	}))
}

func (s *contactStoreSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}

func (s *contactStoreSuite) TestReconciliationEndToEnd() {
	svc := service.NewReconciliationService(s.store, logger.Discard(), nil)
	identify := func(email, phone string) models.ContactResponse {
		p := models.PhoneNumber(phone)
		resp, err := svc.Identify(s.ctx, models.IdentifyRequest{Email: &email, PhoneNumber: &p})
		s.Require().NoError(err)
		return resp.Contact
	}

	identify("george@hillvalley.edu", "919191")
	identify("biffsucks@hillvalley.edu", "717171")
	identify("biff2@hillvalley.edu", "717171")

	got := identify("george@hillvalley.edu", "717171")
	s.Equal(int64(1), got.PrimaryContactID)
	s.Equal([]string{"george@hillvalley.edu", "biffsucks@hillvalley.edu", "biff2@hillvalley.edu"}, got.Emails)
	s.Equal([]string{"919191", "717171"}, got.PhoneNumbers)
	s.Equal([]int64{2, 3}, got.SecondaryContactIDs)
	s.Equal(3, s.count())

	again := identify("biff2@hillvalley.edu", "919191")
	s.Equal(got, again)
	s.Equal(3, s.count())
}

func (s *contactStoreSuite) TestConcurrentIdentifyCreatesOnePrimary() {
	svc := service.NewReconciliationService(s.store, logger.Discard(), nil)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := "race@test.com"
			phone := models.PhoneNumber("777")
			_, errs[i] = svc.Identify(s.ctx, models.IdentifyRequest{Email: &email, PhoneNumber: &phone})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.Require().NoError(err)
	}
	s.Equal(1, s.count())
}

func (s *contactStoreSuite) TestConcurrentBridgingRequestsConvergeOnOldestPrimary() {
	const rounds = 5
	for round := 0; round < rounds; round++ {
		s.SetupTest()
		svc := service.NewReconciliationService(s.store, logger.Discard(), nil)
		identify := func(email, phone string) (*models.IdentifyResponse, error) {
			p := models.PhoneNumber(phone)
			return svc.Identify(s.ctx, models.IdentifyRequest{Email: &email, PhoneNumber: &p})
		}

		for _, seed := range [][2]string{{"a@test.com", "1"}, {"b@test.com", "2"}, {"c@test.com", "3"}} {
			_, err := identify(seed[0], seed[1])
			s.Require().NoError(err)
		}

		// one request bridges 1 and 2, the other 2 and 3
		bridges := [][2]string{{"a@test.com", "2"}, {"b@test.com", "3"}}
		errs := make([]error, len(bridges))
		var wg sync.WaitGroup
		for i, b := range bridges {
			wg.Add(1)
			go func(i int, email, phone string) {
				defer wg.Done()
				_, errs[i] = identify(email, phone)
			}(i, b[0], b[1])
		}
		wg.Wait()
		for _, err := range errs {
			s.Require().NoError(err, "round %d", round)
		}

		s.Equal(3, s.count(), "round %d", round)
		var primaries int
		s.Require().NoError(s.db.Conn.QueryRowContext(s.ctx,
			`SELECT COUNT(*) FROM contacts WHERE link_precedence = 'primary'`).Scan(&primaries))
		s.Equal(1, primaries, "round %d", round)

		all := s.read(func(tx store.ContactTx) ([]*models.Contact, error) {
			return tx.FindCluster(s.ctx, 1)
		})
		s.Equal([]int64{1, 2, 3}, ids(all), "round %d", round)

		resp, err := identify("c@test.com", "1")
		s.Require().NoError(err)
		s.Equal(int64(1), resp.Contact.PrimaryContactID)
		s.Equal([]int64{2, 3}, resp.Contact.SecondaryContactIDs)
	}
}
