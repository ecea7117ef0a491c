package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/ucwatch/ucwatch/pkg/storage"
	"github.com/ucwatch/ucwatch/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetValidation(ctx context.Context, document, uc string) (types.ValidationRecord, error) {
	args := m.Called(ctx, document, uc)
	if len(args) > 0 {
		return args.Get(0).(types.ValidationRecord), args.Error(1)
	}
	return types.ValidationRecord{}, nil
}

func (m *MockDatabase) UpsertValidation(ctx context.Context, record types.ValidationRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockDatabase) ListValidations(ctx context.Context) ([]types.ValidationRecord, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.ValidationRecord), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) ListUCRecords(ctx context.Context) ([]types.UCRecord, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.UCRecord), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertUCRecord(ctx context.Context, record types.UCRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
