package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/docstamp/docstamp/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Set(ctx context.Context, s models.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context) (models.Session, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *MockStore) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
