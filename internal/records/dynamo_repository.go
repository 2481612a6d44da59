package records

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// ErrDuplicateID is returned when a podcast id is already taken.
var ErrDuplicateID = errors.New("podcast id already exists")

// DynamoRepository stores podcasts in a DynamoDB table keyed by id, with a
// global secondary index on author_id.
type DynamoRepository struct {
	dynamoSvc   dynamodbiface.DynamoDBAPI
	tableName   string
	authorIndex string
}

// NewDynamoRepository creates a repository on an existing table.
func NewDynamoRepository(dynamoSvc dynamodbiface.DynamoDBAPI, tableName, authorIndex string) *DynamoRepository {
	return &DynamoRepository{
		dynamoSvc:   dynamoSvc,
		tableName:   tableName,
		authorIndex: authorIndex,
	}
}

func (r *DynamoRepository) Create(ctx context.Context, podcast *Podcast) error {
	av, err := dynamodbattribute.MarshalMap(podcast)
	if err != nil {
		return fmt.Errorf("failed to marshal podcast %s: %w", podcast.ID, err)
	}

	input := &dynamodb.PutItemInput{
		Item:                av,
		TableName:           aws.String(r.tableName),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	}

	_, err = r.dynamoSvc.PutItemWithContext(ctx, input)
	if err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && awsErr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return fmt.Errorf("%w: '%s'", ErrDuplicateID, podcast.ID)
		}

		return fmt.Errorf("failed to put podcast %s: %w", podcast.ID, err)
	}

	return nil
}

func (r *DynamoRepository) Get(ctx context.Context, id string) (*Podcast, error) {
	out, err := r.dynamoSvc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get podcast %s: %w", id, err)
	}

	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: '%s'", ErrNotFound, id)
	}

	var podcast Podcast

	err = dynamodbattribute.UnmarshalMap(out.Item, &podcast)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal podcast %s: %w", id, err)
	}

	return &podcast, nil
}

func (r *DynamoRepository) ListByAuthor(ctx context.Context, authorID string) ([]Podcast, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(r.authorIndex),
		KeyConditionExpression: aws.String("author_id = :author"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":author": {S: aws.String(authorID)},
		},
	}

	var podcasts []Podcast

	for {
		out, err := r.dynamoSvc.QueryWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query podcasts of %s: %w", authorID, err)
		}

		var page []Podcast

		err = dynamodbattribute.UnmarshalListOfMaps(out.Items, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal podcasts of %s: %w", authorID, err)
		}

		podcasts = append(podcasts, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}

		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.SliceStable(podcasts, func(i, j int) bool {
		return podcasts[i].CreatedAt.After(podcasts[j].CreatedAt)
	})

	return podcasts, nil
}

func (r *DynamoRepository) Delete(ctx context.Context, id string) error {
	out, err := r.dynamoSvc.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.tableName),
		Key:          r.key(id),
		ReturnValues: aws.String(dynamodb.ReturnValueAllOld),
	})
	if err != nil {
		return fmt.Errorf("failed to delete podcast %s: %w", id, err)
	}

	if len(out.Attributes) == 0 {
		return fmt.Errorf("%w: '%s'", ErrNotFound, id)
	}

	return nil
}

func (r *DynamoRepository) key(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"id": {S: aws.String(id)},
	}
}
