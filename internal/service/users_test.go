package service

import (
	"context"
	"testing"
)

func TestUserLookups(t *testing.T) {
	db := newTestDB(t)
	seedCampaign(t, db, "camp-1", 3, true, nil)
	seedCode(t, db, "camp-1", "USER2345")
	seedCode(t, db, "camp-1", "USER2346")
	ctx := context.Background()
	redeemer := NewRedemptionService(db)
	for _, code := range []string{"USER2345", "USER2346"} {
		if _, err := redeemer.Redeem(ctx, RedeemRequest{CampaignID: "camp-1", Code: code, UserEmail: "fan@example.com"}); err != nil {
			t.Fatal(err)
		}
	}

	svc := NewUserService(db)
	u, err := svc.GetByEmail(ctx, "FAN@example.com")
	if err != nil {
		t.Fatalf("GetByEmail should be case-insensitive: %v", err)
	}
	if u.TotalRedemptions != 2 {
		t.Errorf("TotalRedemptions = %d, expected 2", u.TotalRedemptions)
	}

	codes, err := svc.Redemptions(ctx, u.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 2 {
		t.Errorf("expected 2 redemptions, got %d", len(codes))
	}

	users, total, err := svc.List(ctx, "fan", 1, 10)
	if err != nil || total != 1 || len(users) != 1 {
		t.Errorf("List = %d users, total %d, err %v", len(users), total, err)
	}

	_, err = svc.GetByEmail(ctx, "nobody@example.com")
	expectCode(t, err, "USER_NOT_FOUND")
	_, err = svc.GetByEmail(ctx, "not-an-email")
	expectCode(t, err, "INVALID_EMAIL")
}

func TestOperationLog(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	LogOperation(ctx, db, "admin-1", OpCampaignCreate, "campaign", "camp-1", map[string]any{"name": "Spring"})
	LogOperation(ctx, db, "admin-1", OpCodesGenerate, "campaign", "camp-1", nil)
	LogOperation(ctx, db, "admin-2", OpCampaignDelete, "campaign", "camp-2", nil)

	logs, total, err := ListOperationLogs(ctx, db, OperationLogFilter{AdminID: "admin-1"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(logs) != 2 {
		t.Errorf("expected 2 logs for admin-1, got %d", total)
	}

	logs, _, err = ListOperationLogs(ctx, db, OperationLogFilter{Action: OpCampaignCreate})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Metadata["name"] != "Spring" {
		t.Errorf("unexpected logs %+v", logs)
	}
}
