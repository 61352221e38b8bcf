package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/docstamp/docstamp/gateway"
	"github.com/docstamp/docstamp/models"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Login(ctx context.Context, username, password string) (gateway.LoginResult, error) {
	args := m.Called(ctx, username, password)
	return args.Get(0).(gateway.LoginResult), args.Error(1)
}

func (m *MockGateway) Register(ctx context.Context, username, email, password string) (gateway.RegisterResult, error) {
	args := m.Called(ctx, username, email, password)
	return args.Get(0).(gateway.RegisterResult), args.Error(1)
}

func (m *MockGateway) VerifyOTP(ctx context.Context, mode models.ChallengeMode, tempToken, code string) (string, error) {
	args := m.Called(ctx, mode, tempToken, code)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) FetchCertificate(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) FetchProfile(ctx context.Context, accessToken string) (models.Profile, error) {
	args := m.Called(ctx, accessToken)
	return args.Get(0).(models.Profile), args.Error(1)
}

func (m *MockGateway) Upload(ctx context.Context, filename string, content io.Reader) (models.TimestampRecord, error) {
	args := m.Called(ctx, filename, content)
	return args.Get(0).(models.TimestampRecord), args.Error(1)
}

func (m *MockGateway) Verify(ctx context.Context, filename string, content io.Reader) (models.VerificationOutcome, error) {
	args := m.Called(ctx, filename, content)
	return args.Get(0).(models.VerificationOutcome), args.Error(1)
}

func (m *MockGateway) ListRecords(ctx context.Context, skip, limit int) ([]models.TimestampRecord, error) {
	args := m.Called(ctx, skip, limit)
	return args.Get(0).([]models.TimestampRecord), args.Error(1)
}

func (m *MockGateway) DeleteRecord(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
