// Package dynamo implements the substrate contract on top of DynamoDB.
//
// DynamoDB conditional writes supply the per-record atomic
// read-modify-write the contract requires: every record carries a revision
// attribute, and Transact commits with a condition on the revision it
// read, retrying with exponential backoff when a concurrent writer wins.
//
// Table schema:
//   - Partition key: name (string) - the record name, including the
//     store's namespace prefix
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name kvmux-records \
//	  --attribute-definitions AttributeName=name,AttributeType=S \
//	  --key-schema AttributeName=name,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/kvmux/substrate"
)

const (
	attrName     = "name"
	attrContents = "contents"
	attrRev      = "rev"
)

// Client is the interface for the DynamoDB operations the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store is a DynamoDB-backed substrate.
// Records live in a single table, partitioned by record name; the optional
// namespace prefix lets several indexes share the table.
type Store struct {
	client    Client
	tableName string
	prefix    string
}

var _ substrate.Store = (*Store)(nil)

// NewStore creates a DynamoDB-backed substrate on the given table.
func NewStore(client Client, tableName, prefix string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		prefix:    prefix,
	}
}

func (s *Store) key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrName: &types.AttributeValueMemberS{Value: s.prefix + name},
	}
}

// Get returns a record's contents.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	data, _, found, err := s.read(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, substrate.ErrNotFound
	}
	return data, nil
}

// read fetches a record's contents and revision with a consistent read.
func (s *Store) read(ctx context.Context, name string) ([]byte, int64, bool, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, false, fmt.Errorf("dynamo get %q: %w", name, err)
	}
	if resp.Item == nil {
		return nil, 0, false, nil
	}

	contents, ok := resp.Item[attrContents].(*types.AttributeValueMemberB)
	if !ok {
		return nil, 0, false, fmt.Errorf("dynamo get %q: missing contents attribute", name)
	}
	revAttr, ok := resp.Item[attrRev].(*types.AttributeValueMemberN)
	if !ok {
		return nil, 0, false, fmt.Errorf("dynamo get %q: missing rev attribute", name)
	}
	var rev int64
	if _, err := fmt.Sscanf(revAttr.Value, "%d", &rev); err != nil {
		return nil, 0, false, fmt.Errorf("dynamo get %q: parse rev: %w", name, err)
	}
	return contents.Value, rev, true, nil
}

// Put writes a record unconditionally.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			attrName:     &types.AttributeValueMemberS{Value: s.prefix + name},
			attrContents: &types.AttributeValueMemberB{Value: data},
			attrRev:      &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo put %q: %w", name, err)
	}
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(name),
	})
	if err != nil {
		return fmt.Errorf("dynamo delete %q: %w", name, err)
	}
	return nil
}

// Transact applies fn as an optimistic compare-and-swap: read the record
// and its revision, run fn, and commit with a condition on the revision.
// A concurrent writer failing the condition triggers a retry with
// exponential backoff.
func (s *Store) Transact(ctx context.Context, name string, fn substrate.TxFunc) ([]byte, error) {
	var committed []byte

	attempt := func() error {
		prev, rev, found, err := s.read(ctx, name)
		if err != nil {
			return backoff.Permanent(err)
		}

		next, outcome, err := fn(prev, found)
		if err != nil {
			return backoff.Permanent(err)
		}

		switch outcome {
		case substrate.TxWrite:
			if err := s.conditionalPut(ctx, name, next, rev, found); err != nil {
				return err
			}
			committed = next
		case substrate.TxDelete:
			if !found {
				committed = nil
				return nil
			}
			if err := s.conditionalDelete(ctx, name, rev); err != nil {
				return err
			}
			committed = nil
		default:
			if found {
				committed = prev
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *Store) conditionalPut(ctx context.Context, name string, data []byte, rev int64, found bool) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			attrName:     &types.AttributeValueMemberS{Value: s.prefix + name},
			attrContents: &types.AttributeValueMemberB{Value: data},
			attrRev:      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rev+1)},
		},
	}
	if found {
		input.ConditionExpression = aws.String("rev = :rev")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rev)},
		}
	} else {
		input.ConditionExpression = aws.String("attribute_not_exists(#n)")
		input.ExpressionAttributeNames = map[string]string{"#n": attrName}
	}

	_, err := s.client.PutItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return err // retryable: lost the race
		}
		return backoff.Permanent(fmt.Errorf("dynamo transact put %q: %w", name, err))
	}
	return nil
}

func (s *Store) conditionalDelete(ctx context.Context, name string, rev int64) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(name),
		ConditionExpression: aws.String("rev = :rev"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rev)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return err // retryable: lost the race
		}
		return backoff.Permanent(fmt.Errorf("dynamo transact delete %q: %w", name, err))
	}
	return nil
}

// List returns record names starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.prefix + prefix
	var names []string

	var startKey map[string]types.AttributeValue
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.tableName),
			ProjectionExpression: aws.String("#n"),
			FilterExpression:     aws.String("begins_with(#n, :p)"),
			ExpressionAttributeNames: map[string]string{
				"#n": attrName,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: full},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo list %q: %w", prefix, err)
		}
		for _, item := range resp.Items {
			nameAttr, ok := item[attrName].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			names = append(names, nameAttr.Value[len(s.prefix):])
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return names, nil
}

// Count returns the number of records in the namespace.
func (s *Store) Count(ctx context.Context) (int, error) {
	names, err := s.List(ctx, "")
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Clear removes every record in the namespace.
func (s *Store) Clear(ctx context.Context) error {
	names, err := s.List(ctx, "")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
