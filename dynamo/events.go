package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/campus-events/event-registration/events"
	"github.com/google/uuid"
)

var _ events.Repository = &DB{}

type eventDynamo struct {
	PK                    string
	SK                    string
	ID                    string
	Version               int
	Name                  string
	CreatorID             string
	Capacity              int
	ApprovedCount         int
	PriceAmount           int64
	PriceCurrency         string
	RegistrationCloseTime time.Time
}

const (
	eventEntityName = "EVENT"
)

func eventPK(id uuid.UUID) string {
	return fmt.Sprintf("%s#%s", eventEntityName, id)
}

func eventSK(id uuid.UUID) string {
	return fmt.Sprintf("%s#%s", eventEntityName, id)
}

func eventKey(id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: eventPK(id)},
		"SK": &types.AttributeValueMemberS{Value: eventSK(id)},
	}
}

func newEventDynamo(event events.Event) eventDynamo {
	dynamoEvent := eventDynamo{
		PK:                    eventPK(event.ID),
		SK:                    eventSK(event.ID),
		ID:                    event.ID.String(),
		Version:               event.Version,
		Name:                  event.Name,
		CreatorID:             event.CreatorID,
		Capacity:              event.Capacity,
		ApprovedCount:         event.ApprovedCount,
		RegistrationCloseTime: event.RegistrationCloseTime,
	}
	if event.Price != nil {
		dynamoEvent.PriceAmount = event.Price.Amount()
		dynamoEvent.PriceCurrency = event.Price.Currency().Code
	}
	return dynamoEvent
}

func eventFromEventDynamo(event eventDynamo) events.Event {
	result := events.Event{
		ID:                    uuid.MustParse(event.ID),
		Version:               event.Version,
		Name:                  event.Name,
		CreatorID:             event.CreatorID,
		Capacity:              event.Capacity,
		ApprovedCount:         event.ApprovedCount,
		RegistrationCloseTime: event.RegistrationCloseTime,
	}
	if event.PriceCurrency != "" {
		result.Price = money.New(event.PriceAmount, event.PriceCurrency)
	}
	return result
}

func (d *DB) GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	resp, err := d.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       eventKey(id),
		// Admission reads the approved count, it must not be stale.
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return events.Event{}, events.NewTimeoutError(id, "GetEvent")
		}
		return events.Event{}, events.NewFailedToReadError(id, err)
	}

	if len(resp.Item) == 0 {
		return events.Event{}, events.NewEventNotFoundError(id)
	}

	var event eventDynamo
	err = attributevalue.UnmarshalMap(resp.Item, &event)
	if err != nil {
		return events.Event{}, events.NewCorruptEventRecordError(id, err)
	}
	return eventFromEventDynamo(event), nil
}

func (d *DB) CreateEvent(ctx context.Context, event events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := event.Validate(); err != nil {
		return err
	}

	dynamoItem := newEventDynamo(event)

	item, err := attributevalue.MarshalMap(dynamoItem)
	if err != nil {
		return events.NewInvalidEventError(event.ID, fmt.Sprintf("cannot be marshalled: %s", err))
	}

	expr := exprMustBuild(expression.NewBuilder().
		WithCondition(newEntityVersionConditional(dynamoItem.Version)))

	_, err = d.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(d.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condCheckFailedErr *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailedErr) {
			return events.NewEventAlreadyExistsError(event.ID, err)
		} else if errors.Is(err, context.DeadlineExceeded) {
			return events.NewTimeoutError(event.ID, "CreateEvent")
		} else {
			return events.NewFailedToWriteError(event.ID, err)
		}
	}

	return nil
}
