package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoBackend stores records in DynamoDB, one table per entity. Attribute
// names come from the records' json tags so the stored shape matches the
// in-memory backend exactly.
type DynamoBackend struct {
	client *dynamodb.Client
}

// NewDynamoBackend wraps a DynamoDB client.
func NewDynamoBackend(client *dynamodb.Client) *DynamoBackend {
	return &DynamoBackend{client: client}
}

func jsonTagged(o *attributevalue.EncoderOptions) { o.TagKey = "json" }

func jsonTaggedDec(o *attributevalue.DecoderOptions) { o.TagKey = "json" }

func marshalItem(item any) (map[string]ddbtypes.AttributeValue, error) {
	return attributevalue.MarshalMapWithOptions(item, jsonTagged)
}

func unmarshalItem(av map[string]ddbtypes.AttributeValue, out any) error {
	return attributevalue.UnmarshalMapWithOptions(av, out, jsonTaggedDec)
}

// Get loads the record at key into out.
func (b *DynamoBackend) Get(ctx context.Context, t Table, key string, out any) (bool, error) {
	resp, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.Name),
		Key:       map[string]ddbtypes.AttributeValue{t.Key: &ddbtypes.AttributeValueMemberS{Value: key}},
	})
	if err != nil {
		return false, fmt.Errorf("get %s: %w", t.Name, err)
	}
	if resp.Item == nil {
		return false, nil
	}
	return true, unmarshalItem(resp.Item, out)
}

// Put stores item under key.
func (b *DynamoBackend) Put(ctx context.Context, t Table, key string, item any) error {
	av, err := marshalItem(item)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", t.Name, err)
	}
	av[t.Key] = &ddbtypes.AttributeValueMemberS{Value: key}
	if _, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.Name),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("put %s: %w", t.Name, err)
	}
	return nil
}

// Delete removes the record at key.
func (b *DynamoBackend) Delete(ctx context.Context, t Table, key string) error {
	if _, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.Name),
		Key:       map[string]ddbtypes.AttributeValue{t.Key: &ddbtypes.AttributeValueMemberS{Value: key}},
	}); err != nil {
		return fmt.Errorf("delete %s: %w", t.Name, err)
	}
	return nil
}

// Take issues a conditional delete returning the old item, so exactly one of
// any number of concurrent takers observes the record.
func (b *DynamoBackend) Take(ctx context.Context, t Table, key string, out any) (bool, error) {
	resp, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(t.Name),
		Key:                 map[string]ddbtypes.AttributeValue{t.Key: &ddbtypes.AttributeValueMemberS{Value: key}},
		ConditionExpression: aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#k": t.Key,
		},
		ReturnValues: ddbtypes.ReturnValueAllOld,
	})
	if err != nil {
		var cond *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return false, nil
		}
		return false, fmt.Errorf("take %s: %w", t.Name, err)
	}
	if resp.Attributes == nil {
		return false, nil
	}
	return true, unmarshalItem(resp.Attributes, out)
}

// QueryIndex queries a GSI for the first record whose indexed attribute
// equals value.
func (b *DynamoBackend) QueryIndex(ctx context.Context, t Table, idx Index, value string, out any) (bool, error) {
	resp, err := b.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(t.Name),
		IndexName:              aws.String(idx.Name),
		KeyConditionExpression: aws.String("#a = :v"),
		ExpressionAttributeNames: map[string]string{
			"#a": idx.Attr,
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":v": &ddbtypes.AttributeValueMemberS{Value: value},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("query %s/%s: %w", t.Name, idx.Name, err)
	}
	if len(resp.Items) == 0 {
		return false, nil
	}
	return true, unmarshalItem(resp.Items[0], out)
}
