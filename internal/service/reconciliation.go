package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"bitespeed/internal/metrics"
	"bitespeed/internal/models"
	"bitespeed/internal/store"
	bserr "bitespeed/pkg/errors"
)

// ReconciliationService handles identity reconciliation logic
type ReconciliationService struct {
	store   store.ContactStore
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewReconciliationService creates a new reconciliation service. m may be nil.
func NewReconciliationService(s store.ContactStore, logger logrus.FieldLogger, m *metrics.Metrics) *ReconciliationService {
	return &ReconciliationService{store: s, logger: logger, metrics: m}
}

// outcome describes what a single reconciliation changed.
type outcome struct {
	createdPrimary   bool
	createdSecondary bool
	demoted          []int64
}

func (o outcome) label() string {
	switch {
	case o.createdPrimary:
		return metrics.OutcomeNewPrimary
	case len(o.demoted) > 0:
		return metrics.OutcomeMerged
	case o.createdSecondary:
		return metrics.OutcomeSecondaryCreated
	default:
		return metrics.OutcomeUnchanged
	}
}

// Identify resolves the cluster the request's email/phone belong to, merging
// and extending clusters as needed, and returns its consolidated view. The
// whole procedure runs in one store transaction; re-running it with the same
// input after success changes nothing.
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	email, phone := req.Normalized()
	if email == nil && phone == nil {
		return nil, bserr.New(bserr.CodeIdentifyRequestInvalid, "At least one of email or phoneNumber must be provided")
	}

	log := s.logger.WithFields(logrus.Fields{
		"email":       deref(email),
		"phoneNumber": deref(phone),
	})
	log.Debug("starting identity reconciliation")

	var (
		resp *models.IdentifyResponse
		out  outcome
	)
	err := s.store.RunInTx(ctx, func(tx store.ContactTx) error {
		out = outcome{}
		var err error
		resp, err = s.reconcile(ctx, tx, log, email, phone, &out)
		return err
	})
	if err != nil {
		s.metrics.ObserveFailure(string(bserr.CodeOf(err)))
		return nil, err
	}

	s.metrics.ObserveOutcome(out.label(), len(out.demoted))
	log.WithFields(logrus.Fields{
		"primaryId":   resp.Contact.PrimaryContactID,
		"clusterSize": len(resp.Contact.SecondaryContactIDs) + 1,
		"outcome":     out.label(),
	}).Info("reconciliation complete")
	return resp, nil
}

func (s *ReconciliationService) reconcile(ctx context.Context, tx store.ContactTx, log logrus.FieldLogger, email, phone *string, out *outcome) (*models.IdentifyResponse, error) {
	if err := tx.LockKeys(ctx, lockKeys(email, phone)...); err != nil {
		return nil, err
	}

	matches, err := tx.FindMatching(ctx, email, phone)
	if err != nil {
		return nil, fmt.Errorf("find matching contacts: %w", err)
	}

	if len(matches) == 0 {
		contact := &models.Contact{
			Email:          email,
			PhoneNumber:    phone,
			LinkPrecedence: models.LinkPrecedencePrimary,
		}
		if err := tx.Create(ctx, contact); err != nil {
			return nil, fmt.Errorf("create primary contact: %w", err)
		}
		out.createdPrimary = true
		log.WithField("contactId", contact.ID).Info("no existing contacts, created primary")
		return buildResponse(contact, nil), nil
	}

	// Primacy is decided on the expanded clusters, never on the raw matches:
	// a match may be a secondary whose primary carries neither value.
	cluster, err := s.expandToClusters(ctx, tx, matches)
	if err != nil {
		return nil, err
	}

	primaries := primariesOf(cluster)
	if len(primaries) == 0 {
		roots := rootIDs(matches)
		log.WithField("rootIds", roots).Error("cluster has no primary contact")
		return nil, bserr.New(bserr.CodeIdentifyClusterInconsistent, "contact cluster has no primary",
			bserr.Field("root_ids", roots))
	}

	primary := primaries[0]
	if len(primaries) > 1 {
		demoted, err := s.mergeClusters(ctx, tx, primary, primaries[1:])
		if err != nil {
			return nil, err
		}
		out.demoted = demoted
		log.WithFields(logrus.Fields{
			"primaryId":  primary.ID,
			"demotedIds": demoted,
		}).Info("merged contact clusters")
	}

	fresh, err := tx.FindCluster(ctx, primary.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh cluster: %w", err)
	}

	if newEmail, newPhone := hasNewInformation(fresh, email, phone); newEmail || newPhone {
		linked := primary.ID
		contact := &models.Contact{
			Email:          email,
			PhoneNumber:    phone,
			LinkedID:       &linked,
			LinkPrecedence: models.LinkPrecedenceSecondary,
		}
		if err := tx.Create(ctx, contact); err != nil {
			return nil, fmt.Errorf("create secondary contact: %w", err)
		}
		out.createdSecondary = true
		log.WithFields(logrus.Fields{
			"contactId":   contact.ID,
			"primaryId":   primary.ID,
			"hasNewEmail": newEmail,
			"hasNewPhone": newPhone,
		}).Info("request contains new information, created secondary")
	}

	final, err := tx.FindCluster(ctx, primary.ID)
	if err != nil {
		return nil, fmt.Errorf("read final cluster: %w", err)
	}

	head, secondaries, err := partition(final, primary.ID)
	if err != nil {
		log.WithField("primaryId", primary.ID).Error("primary missing from its own cluster")
		return nil, err
	}
	return buildResponse(head, secondaries), nil
}

// expandToClusters loads every contact of the clusters the matches belong to.
// Matches may predate a merge committed by a concurrent transaction, so the
// root set is recomputed from the locked rows until it stops growing: a root
// that came back demoted pulls in the cluster it was merged into.
func (s *ReconciliationService) expandToClusters(ctx context.Context, tx store.ContactTx, matches []*models.Contact) ([]*models.Contact, error) {
	roots := rootIDs(matches)
	for {
		expanded, err := tx.FindClusters(ctx, roots)
		if err != nil {
			return nil, fmt.Errorf("expand clusters: %w", err)
		}

		next := unionIDs(roots, rootIDs(expanded))
		if len(next) == len(roots) {
			store.SortBySeniority(expanded)
			return expanded, nil
		}
		roots = next
	}
}

// mergeClusters demotes every loser under winner and flattens their
// secondaries onto winner.
func (s *ReconciliationService) mergeClusters(ctx context.Context, tx store.ContactTx, winner *models.Contact, losers []*models.Contact) ([]int64, error) {
	demoted := make([]int64, 0, len(losers))
	for _, p := range losers {
		if err := tx.Demote(ctx, p.ID, winner.ID); err != nil {
			return nil, fmt.Errorf("demote contact %d: %w", p.ID, err)
		}
		if err := tx.Relink(ctx, p.ID, winner.ID); err != nil {
			return nil, fmt.Errorf("relink secondaries of %d: %w", p.ID, err)
		}
		demoted = append(demoted, p.ID)
	}
	return demoted, nil
}

// primariesOf returns the primaries of contacts, most senior first.
func primariesOf(contacts []*models.Contact) []*models.Contact {
	var primaries []*models.Contact
	for _, c := range contacts {
		if c.IsPrimary() {
			primaries = append(primaries, c)
		}
	}
	store.SortBySeniority(primaries)
	return primaries
}

func rootIDs(contacts []*models.Contact) []int64 {
	seen := make(map[int64]struct{}, len(contacts))
	ids := make([]int64, 0, len(contacts))
	for _, c := range contacts {
		id := c.RootID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// unionIDs merges two sorted, distinct id lists.
func unionIDs(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// hasNewInformation reports which of email/phone are absent from the cluster.
func hasNewInformation(contacts []*models.Contact, email, phone *string) (newEmail, newPhone bool) {
	existingEmails := make(map[string]struct{})
	existingPhones := make(map[string]struct{})
	for _, c := range contacts {
		if c.Email != nil {
			existingEmails[*c.Email] = struct{}{}
		}
		if c.PhoneNumber != nil {
			existingPhones[*c.PhoneNumber] = struct{}{}
		}
	}

	if email != nil {
		_, ok := existingEmails[*email]
		newEmail = !ok
	}
	if phone != nil {
		_, ok := existingPhones[*phone]
		newPhone = !ok
	}
	return newEmail, newPhone
}

// partition splits an ordered cluster into its primary and its secondaries.
func partition(cluster []*models.Contact, primaryID int64) (*models.Contact, []*models.Contact, error) {
	var (
		primary     *models.Contact
		secondaries = make([]*models.Contact, 0, len(cluster))
	)
	for _, c := range cluster {
		if c.ID == primaryID {
			primary = c
			continue
		}
		secondaries = append(secondaries, c)
	}
	if primary == nil || !primary.IsPrimary() {
		return nil, nil, bserr.New(bserr.CodeIdentifyClusterInconsistent, "contact cluster has no primary",
			bserr.Field("primary_id", primaryID))
	}
	return primary, secondaries, nil
}

func buildResponse(primary *models.Contact, secondaries []*models.Contact) *models.IdentifyResponse {
	return &models.IdentifyResponse{
		Contact: models.NewContactResponse(primary, secondaries),
	}
}

// lockKeys names the values a reconciliation reads by, in a stable order so
// overlapping transactions acquire them without deadlocking.
func lockKeys(email, phone *string) []string {
	keys := make([]string, 0, 2)
	if email != nil {
		keys = append(keys, "email:"+*email)
	}
	if phone != nil {
		keys = append(keys, "phone:"+*phone)
	}
	sort.Strings(keys)
	return keys
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
