package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

type notificationService interface {
	CreateAndSchedule(ctx context.Context, in model.CreateInput) (model.Notification, error)
	CreateAndScheduleBatch(ctx context.Context, inputs []model.CreateInput) ([]model.Notification, error)
	Get(ctx context.Context, id uuid.UUID) (model.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) (model.Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error)
}

// createNotifications reads one JSON object or an array of objects from in
// and schedules their delivery. Records that were stored are printed even
// when scheduling failed.
func createNotifications(ctx context.Context, svc notificationService, in io.Reader, out io.Writer) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return errors.New("expected a notification as JSON on stdin")
	}

	if raw[0] == '[' {
		var inputs []model.CreateInput
		if err := json.Unmarshal(raw, &inputs); err != nil {
			return fmt.Errorf("decode notifications: %w", err)
		}

		created, err := svc.CreateAndScheduleBatch(ctx, inputs)
		if len(created) > 0 {
			if printErr := printJSON(out, created); printErr != nil {
				return errors.Join(err, printErr)
			}
		}

		return err
	}

	var input model.CreateInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}

	n, err := svc.CreateAndSchedule(ctx, input)
	if n.ID != uuid.Nil {
		if printErr := printJSON(out, n); printErr != nil {
			return errors.Join(err, printErr)
		}
	}

	return err
}

func getNotification(ctx context.Context, svc notificationService, args []string, out io.Writer) error {
	id, err := parseID(args, "get expects exactly one notification id")
	if err != nil {
		return err
	}

	n, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}

	return printJSON(out, n)
}

func markRead(ctx context.Context, svc notificationService, args []string, out io.Writer) error {
	id, err := parseID(args, "read expects exactly one notification id")
	if err != nil {
		return err
	}

	n, err := svc.MarkRead(ctx, id)
	if err != nil {
		return err
	}

	return printJSON(out, n)
}

func listNotifications(ctx context.Context, svc notificationService, args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("list expects a user id and an optional limit")
	}

	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}

	limit := 0
	if len(args) == 2 {
		if limit, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("parse limit: %w", err)
		}
	}

	list, err := svc.ListByUser(ctx, userID, limit)
	if err != nil {
		return err
	}

	if list == nil {
		list = []model.Notification{}
	}

	return printJSON(out, list)
}

func parseID(args []string, usage string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, errors.New(usage)
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse notification id: %w", err)
	}

	return id, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
