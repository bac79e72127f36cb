package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aloy/roommate-booking/internal/config"
	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/pkg/events"
	"github.com/aloy/roommate-booking/pkg/validator"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RoommateGroupService manages group formation, membership and invite codes
type RoommateGroupService struct {
	groupRepo         *database.RoommateGroupRepository
	apartmentRepo     *database.ApartmentRepository
	userRepo          *database.UserRepository
	limiter           *RateLimitService
	publisher         events.Publisher
	codes             *validator.InviteCodeValidator
	maxInviteAttempts int
	logger            *logrus.Logger
}

// NewRoommateGroupService creates a new RoommateGroupService
func NewRoommateGroupService(
	groupRepo *database.RoommateGroupRepository,
	apartmentRepo *database.ApartmentRepository,
	userRepo *database.UserRepository,
	limiter *RateLimitService,
	publisher events.Publisher,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *RoommateGroupService {
	attempts := cfg.InviteCodeMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &RoommateGroupService{
		groupRepo:         groupRepo,
		apartmentRepo:     apartmentRepo,
		userRepo:          userRepo,
		limiter:           limiter,
		publisher:         publisher,
		codes:             validator.NewInviteCodeValidator(),
		maxInviteAttempts: attempts,
		logger:            logger,
	}
}

// ============================================================================
// FORMATION
// ============================================================================

// CreateGroup opens a FORMING group for the apartment with the creator as
// its first member
func (s *RoommateGroupService) CreateGroup(ctx context.Context, apartmentID, creatorID uuid.UUID) (*models.RoommateGroup, error) {
	apartment, err := s.apartmentRepo.GetByID(ctx, apartmentID)
	if err != nil {
		return nil, err
	}
	if apartment == nil {
		return nil, models.ErrApartmentNotFound
	}
	if !apartment.AllowsGroups() {
		return nil, models.ErrGroupsNotAllowed
	}
	if !apartment.IsAllocatable() {
		return nil, models.ErrAlreadyBooked
	}

	if err := s.requireTenant(ctx, creatorID); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxInviteAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate invite code: %w", err)
		}

		exists, err := s.groupRepo.InviteCodeExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		group := &models.RoommateGroup{
			ApartmentID: apartmentID,
			CreatorID:   creatorID,
			InviteCode:  code,
		}
		err = s.insertGroup(ctx, group)
		if errors.Is(err, database.ErrInviteCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.WithFields(logrus.Fields{
			"group_id":     group.ID,
			"apartment_id": apartmentID,
			"creator_id":   creatorID,
			"attempts":     attempt,
		}).Info("Roommate group created")

		publishEvent(ctx, s.publisher, s.logger, models.BookingEvent{
			Type:        models.EventGroupCreated,
			ApartmentID: apartmentID,
			GroupID:     &group.ID,
			TenantID:    &creatorID,
		})
		return group, nil
	}

	s.logger.WithFields(logrus.Fields{
		"apartment_id": apartmentID,
		"attempts":     s.maxInviteAttempts,
	}).Error("Invite code space exhausted")
	return nil, models.ErrInviteCodeExhausted
}

// insertGroup runs in its own transaction so a lost invite-code race can be
// retried with a fresh one
func (s *RoommateGroupService) insertGroup(ctx context.Context, group *models.RoommateGroup) error {
	tx, err := s.groupRepo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	active, err := s.groupRepo.HasActiveMembership(ctx, tx, group.CreatorID)
	if err != nil {
		return err
	}
	if active {
		return models.ErrActiveMembershipExists
	}

	if err := s.groupRepo.Create(ctx, tx, group); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group creation: %w", err)
	}
	return nil
}

// JoinGroup adds the tenant to the group behind inviteCode. The member that
// brings the group to four flips it to READY in the same transaction.
func (s *RoommateGroupService) JoinGroup(ctx context.Context, inviteCode string, tenantID uuid.UUID, clientIP string) (*models.RoommateGroup, error) {
	if err := s.limiter.CheckJoinAttempt(ctx, tenantID, clientIP); err != nil {
		return nil, err
	}

	code, err := s.codes.Validate(inviteCode)
	if err != nil {
		return nil, models.ErrInvalidInviteCode
	}

	group, err := s.groupRepo.GetByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, models.ErrInviteCodeNotFound
	}

	if err := s.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	tx, err := s.groupRepo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	locked, err := s.groupRepo.LockByID(ctx, tx, group.ID)
	if err != nil {
		return nil, err
	}

	if locked.Status != models.GroupStatusForming {
		return nil, models.ErrGroupNotForming
	}
	if locked.IsFull() {
		return nil, models.ErrGroupFull
	}
	if locked.HasMember(tenantID) {
		return nil, models.ErrAlreadyMember
	}

	active, err := s.groupRepo.HasActiveMembership(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, models.ErrActiveMembershipExists
	}

	if _, err := s.groupRepo.AddMember(ctx, tx, locked.ID, tenantID); err != nil {
		return nil, err
	}

	count, err := s.groupRepo.CountMembers(ctx, tx, locked.ID)
	if err != nil {
		return nil, err
	}

	becameReady := false
	if models.StatusForCount(count) == models.GroupStatusReady {
		if _, err := s.groupRepo.UpdateStatus(ctx, tx, locked.ID, models.GroupStatusReady, models.GroupStatusForming); err != nil {
			return nil, err
		}
		locked.Status = models.GroupStatusReady
		becameReady = true
	}

	members, err := s.groupRepo.GetMembers(ctx, tx, locked.ID)
	if err != nil {
		return nil, err
	}
	locked.Members = members

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit group join: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"group_id":     locked.ID,
		"tenant_id":    tenantID,
		"member_count": count,
		"status":       locked.Status,
	}).Info("Tenant joined roommate group")

	if becameReady {
		publishEvent(ctx, s.publisher, s.logger, models.BookingEvent{
			Type:        models.EventGroupReady,
			ApartmentID: locked.ApartmentID,
			GroupID:     &locked.ID,
		})
	}
	return locked, nil
}

// LeaveGroup removes the tenant. An emptied group is deleted; a READY group
// that drops below four goes back to FORMING.
func (s *RoommateGroupService) LeaveGroup(ctx context.Context, groupID, tenantID uuid.UUID) error {
	tx, err := s.groupRepo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	group, err := s.groupRepo.LockByID(ctx, tx, groupID)
	if err != nil {
		return err
	}
	if group.Status == models.GroupStatusBooked {
		return models.ErrGroupBooked
	}

	removed, err := s.groupRepo.RemoveMember(ctx, tx, groupID, tenantID)
	if err != nil {
		return err
	}
	if !removed {
		return models.ErrNotMember
	}

	remaining, err := s.groupRepo.CountMembers(ctx, tx, groupID)
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"group_id":  groupID,
		"tenant_id": tenantID,
		"remaining": remaining,
	}

	switch {
	case remaining == 0:
		if err := s.groupRepo.Delete(ctx, tx, groupID); err != nil {
			return err
		}
		fields["deleted"] = true
	case group.Status == models.GroupStatusReady && remaining < models.MaxGroupMembers:
		if _, err := s.groupRepo.UpdateStatus(ctx, tx, groupID, models.GroupStatusForming, models.GroupStatusReady); err != nil {
			return err
		}
		fields["status"] = models.GroupStatusForming
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group leave: %w", err)
	}

	s.logger.WithFields(fields).Info("Tenant left roommate group")
	return nil
}

// CancelGroup lets the creator abandon a group that has not booked
func (s *RoommateGroupService) CancelGroup(ctx context.Context, groupID, tenantID uuid.UUID) (*models.RoommateGroup, error) {
	tx, err := s.groupRepo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	group, err := s.groupRepo.LockByID(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	if group.CreatorID != tenantID {
		return nil, models.ErrNotGroupCreator
	}
	if group.Status == models.GroupStatusBooked {
		return nil, models.ErrGroupBooked
	}
	if !group.CanTransitionTo(models.GroupStatusCancelled) {
		return nil, models.ErrGroupClosed
	}

	updated, err := s.groupRepo.UpdateStatus(ctx, tx, groupID, models.GroupStatusCancelled, models.ActiveGroupStatuses...)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, models.ErrGroupClosed
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit group cancel: %w", err)
	}
	group.Status = models.GroupStatusCancelled

	s.logger.WithFields(logrus.Fields{
		"group_id":  groupID,
		"tenant_id": tenantID,
	}).Info("Roommate group cancelled by creator")

	publishEvent(ctx, s.publisher, s.logger, models.BookingEvent{
		Type:        models.EventGroupCancelled,
		ApartmentID: group.ApartmentID,
		GroupID:     &group.ID,
		TenantID:    &tenantID,
		Reason:      "cancelled_by_creator",
	})
	return group, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// GetGroup returns a group with its members
func (s *RoommateGroupService) GetGroup(ctx context.Context, groupID uuid.UUID) (*models.RoommateGroup, error) {
	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, models.ErrGroupNotFound
	}
	return group, nil
}

// GetGroupByInviteCode looks a group up by its normalised invite code
func (s *RoommateGroupService) GetGroupByInviteCode(ctx context.Context, inviteCode string) (*models.RoommateGroup, error) {
	code, err := s.codes.Validate(inviteCode)
	if err != nil {
		return nil, models.ErrInvalidInviteCode
	}

	group, err := s.groupRepo.GetByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, models.ErrInviteCodeNotFound
	}
	return group, nil
}

// ListGroupsForApartment lists an apartment's groups, optionally filtered by status
func (s *RoommateGroupService) ListGroupsForApartment(ctx context.Context, apartmentID uuid.UUID, statuses ...models.GroupStatus) ([]models.RoommateGroup, error) {
	return s.groupRepo.ListByApartment(ctx, apartmentID, statuses)
}

// GetTenantGroupStatus summarises the tenant's active group, if any
func (s *RoommateGroupService) GetTenantGroupStatus(ctx context.Context, tenantID uuid.UUID) (*models.TenantGroupStatus, error) {
	status := &models.TenantGroupStatus{MaxMembers: models.MaxGroupMembers}

	group, err := s.groupRepo.GetActiveGroupForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return status, nil
	}

	status.InGroup = true
	status.GroupID = &group.ID
	status.ApartmentID = &group.ApartmentID
	status.InviteCode = group.InviteCode
	status.Status = group.Status
	status.MemberCount = group.MemberCount()
	status.IsFull = group.IsFull()
	status.IsCreator = group.CreatorID == tenantID
	for _, m := range group.Members {
		status.MemberNames = append(status.MemberNames, m.TenantName)
	}
	return status, nil
}

// requireTenant loads the user and checks the TENANT role
func (s *RoommateGroupService) requireTenant(ctx context.Context, userID uuid.UUID) error {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return models.ErrUserNotFound
	}
	if !user.IsTenant() {
		return models.ErrNotTenant
	}
	return nil
}
