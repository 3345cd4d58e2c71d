package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SaveSchedule creates a schedule at version 1.
func (s *DynamoStore) SaveSchedule(ctx context.Context, sch *Schedule) error {
	now := s.now()
	sch.PK = UserPK(sch.UserID)
	sch.SK = scheduleSK(sch.ScheduleID)
	if sch.Version == 0 {
		sch.Version = 1
	}
	if sch.Status == "" {
		sch.Status = ScheduleActive
	}
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = now
	}
	sch.UpdatedAt = now

	created, err := s.putNew(ctx, sch)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	if !created {
		return alreadyExists("schedule", sch.SK)
	}
	return nil
}

func (s *DynamoStore) GetSchedule(ctx context.Context, userID, scheduleID string) (*Schedule, error) {
	var sch Schedule
	ok, err := s.get(ctx, UserPK(userID), scheduleSK(scheduleID), &sch)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &sch, nil
}

// UpdateSchedule changes a schedule in place under optimistic locking.
func (s *DynamoStore) UpdateSchedule(ctx context.Context, userID, scheduleID string, upd ScheduleUpdate) (*Schedule, error) {
	set := map[string]types.AttributeValue{
		"updated_at": marshalTime(s.now()),
	}
	if upd.Status != "" {
		set["status"] = &types.AttributeValueMemberS{Value: upd.Status}
	}
	var sch Schedule
	if err := s.updateVersioned(ctx, UserPK(userID), scheduleSK(scheduleID), upd.ExpectedVersion, set, &sch); err != nil {
		return nil, err
	}
	return &sch, nil
}
