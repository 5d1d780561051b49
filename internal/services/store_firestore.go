package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/docpageflow/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultTaskCollection = "tasks"

// FirestoreTaskStore keeps one document per task, keyed by task id.
type FirestoreTaskStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreTaskStore(client *firestore.Client, collection string) *FirestoreTaskStore {
	if collection == "" {
		collection = DefaultTaskCollection
	}
	return &FirestoreTaskStore{client: client, collection: collection}
}

func (s *FirestoreTaskStore) doc(taskID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(taskID)
}

func (s *FirestoreTaskStore) Create(ctx context.Context, task *models.Task) error {
	if _, err := s.doc(task.TaskID).Create(ctx, task); err != nil {
		return fmt.Errorf("failed to create task document %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *FirestoreTaskStore) Get(ctx context.Context, taskID string) (*models.Task, error) {
	snap, err := s.doc(taskID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to get task document %s: %w", taskID, err)
	}
	var task models.Task
	if err := snap.DataTo(&task); err != nil {
		return nil, fmt.Errorf("failed to decode task document %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *FirestoreTaskStore) Update(ctx context.Context, taskID string, fn func(*models.Task) error) (*models.Task, error) {
	ref := s.doc(taskID)
	var updated *models.Task
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
			}
			return err
		}
		var task models.Task
		if err := snap.DataTo(&task); err != nil {
			return fmt.Errorf("failed to decode task document %s: %w", taskID, err)
		}
		if err := fn(&task); err != nil {
			return err
		}
		updated = &task
		return tx.Set(ref, &task)
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}
