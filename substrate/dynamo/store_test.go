package dynamo

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kvmux/substrate"
)

// mockClient is an in-memory DynamoDB mock with conditional-write emulation.
type mockClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newMockClient() *mockClient {
	return &mockClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func itemRev(item map[string]types.AttributeValue) string {
	if item == nil {
		return ""
	}
	if rev, ok := item[attrRev].(*types.AttributeValueMemberN); ok {
		return rev.Value
	}
	return ""
}

func (m *mockClient) checkCondition(params interface {
	getCondition() (*string, map[string]types.AttributeValue)
}, existing map[string]types.AttributeValue) error {
	cond, values := params.getCondition()
	if cond == nil {
		return nil
	}
	switch *cond {
	case "attribute_not_exists(#n)":
		if existing != nil {
			return &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	case "rev = :rev":
		want := values[":rev"].(*types.AttributeValueMemberN).Value
		if existing == nil || itemRev(existing) != want {
			return &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	return nil
}

type putCondition struct{ input *dynamodb.PutItemInput }

func (p putCondition) getCondition() (*string, map[string]types.AttributeValue) {
	return p.input.ConditionExpression, p.input.ExpressionAttributeValues
}

type deleteCondition struct{ input *dynamodb.DeleteItemInput }

func (d deleteCondition) getCondition() (*string, map[string]types.AttributeValue) {
	return d.input.ConditionExpression, d.input.ExpressionAttributeValues
}

func (m *mockClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := params.Key[attrName].(*types.AttributeValueMemberS).Value
	item, ok := m.items[name]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (m *mockClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := params.Item[attrName].(*types.AttributeValueMemberS).Value
	if err := m.checkCondition(putCondition{params}, m.items[name]); err != nil {
		return nil, err
	}
	m.items[name] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := params.Key[attrName].(*types.AttributeValueMemberS).Value
	if err := m.checkCondition(deleteCondition{params}, m.items[name]); err != nil {
		return nil, err
	}
	delete(m.items, name)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockClient) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := params.ExpressionAttributeValues[":p"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for name, item := range m.items {
		if strings.HasPrefix(name, prefix) {
			items = append(items, map[string]types.AttributeValue{
				attrName: item[attrName],
			})
		}
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func TestStore_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockClient(), "kvmux-records", "ns/")

	_, err := store.Get(ctx, "header0")
	assert.ErrorIs(t, err, substrate.ErrNotFound)

	require.NoError(t, store.Put(ctx, "header0", []byte(`{"dataptr":{}}`)))
	data, err := store.Get(ctx, "header0")
	require.NoError(t, err)
	assert.Equal(t, `{"dataptr":{}}`, string(data))

	require.NoError(t, store.Delete(ctx, "header0"))
	_, err = store.Get(ctx, "header0")
	assert.ErrorIs(t, err, substrate.ErrNotFound)
}

func TestStore_Transact(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockClient(), "kvmux-records", "")

	committed, err := store.Transact(ctx, "data0", func(prev []byte, found bool) ([]byte, substrate.TxOutcome, error) {
		assert.False(t, found)
		return []byte(`{"size":1}`), substrate.TxWrite, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"size":1}`, string(committed))

	committed, err = store.Transact(ctx, "data0", func(prev []byte, found bool) ([]byte, substrate.TxOutcome, error) {
		assert.Equal(t, `{"size":1}`, string(prev))
		return nil, substrate.TxSkip, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"size":1}`, string(committed))

	committed, err = store.Transact(ctx, "data0", func(prev []byte, found bool) ([]byte, substrate.TxOutcome, error) {
		return nil, substrate.TxDelete, nil
	})
	require.NoError(t, err)
	assert.Nil(t, committed)

	_, err = store.Get(ctx, "data0")
	assert.ErrorIs(t, err, substrate.ErrNotFound)
}

func TestStore_TransactContention(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockClient(), "kvmux-records", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transact(ctx, "counter", func(prev []byte, found bool) ([]byte, substrate.TxOutcome, error) {
				return append(append([]byte(nil), prev...), 'x'), substrate.TxWrite, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Len(t, data, 20)
}

func TestStore_ListCountClear(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockClient(), "kvmux-records", "ns/")

	require.NoError(t, store.Put(ctx, "header0", []byte(`{}`)))
	require.NoError(t, store.Put(ctx, "data0", []byte(`{}`)))
	require.NoError(t, store.Put(ctx, "data1", []byte(`{}`)))

	names, err := store.List(ctx, "data")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data0", "data1"}, names)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, store.Clear(ctx))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
