package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/campus-events/event-registration/registration"
	"github.com/google/uuid"
)

var _ registration.Repository = &DB{}

// registrationDynamo lives in its event's partition, keyed by user, so the
// primary key itself is the one-registration-per-user constraint.
type registrationDynamo struct {
	PK string
	SK string

	ID               string
	Version          int
	EventID          string
	UserID           string
	Email            string
	Status           string
	PaymentReference *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// registrationIDDynamo points from a registration ID to its key. It is
// written in the same transaction as the registration.
type registrationIDDynamo struct {
	PK      string
	SK      string
	EventID string
	UserID  string
}

const (
	registrationEntityName   = "REGISTRATION"
	registrationIDEntityName = "REGISTRATION_ID"
)

func registrationPK(eventId uuid.UUID) string {
	return eventPK(eventId)
}

func registrationSK(userId string) string {
	return fmt.Sprintf("%s#%s", registrationEntityName, userId)
}

func registrationKey(eventId uuid.UUID, userId string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: registrationPK(eventId)},
		"SK": &types.AttributeValueMemberS{Value: registrationSK(userId)},
	}
}

func registrationIDPK(id uuid.UUID) string {
	return fmt.Sprintf("%s#%s", registrationIDEntityName, id)
}

func registrationIDKey(id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: registrationIDPK(id)},
		"SK": &types.AttributeValueMemberS{Value: registrationIDPK(id)},
	}
}

func registrationToDynamo(reg registration.Registration) registrationDynamo {
	return registrationDynamo{
		PK:               registrationPK(reg.EventID),
		SK:               registrationSK(reg.UserID),
		ID:               reg.ID.String(),
		Version:          reg.Version,
		EventID:          reg.EventID.String(),
		UserID:           reg.UserID,
		Email:            reg.Email,
		Status:           reg.Status.String(),
		PaymentReference: reg.PaymentReference,
		CreatedAt:        reg.CreatedAt,
		UpdatedAt:        reg.UpdatedAt,
	}
}

func dynamoToRegistration(dynReg registrationDynamo) (registration.Registration, error) {
	id, err := uuid.Parse(dynReg.ID)
	if err != nil {
		return registration.Registration{}, fmt.Errorf("bad registration id %q: %w", dynReg.ID, err)
	}
	eventId, err := uuid.Parse(dynReg.EventID)
	if err != nil {
		return registration.Registration{}, fmt.Errorf("bad event id %q: %w", dynReg.EventID, err)
	}
	status, err := registration.ParseStatus(dynReg.Status)
	if err != nil {
		return registration.Registration{}, err
	}

	return registration.Registration{
		ID:               id,
		Version:          dynReg.Version,
		EventID:          eventId,
		UserID:           dynReg.UserID,
		Email:            dynReg.Email,
		Status:           status,
		PaymentReference: dynReg.PaymentReference,
		CreatedAt:        dynReg.CreatedAt,
		UpdatedAt:        dynReg.UpdatedAt,
	}, nil
}

func (d *DB) CreateRegistration(ctx context.Context, reg registration.Registration) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	dynamoReg := registrationToDynamo(reg)

	regItem, err := attributevalue.MarshalMap(dynamoReg)
	if err != nil {
		return registration.NewFailedToTranslateToDBModelError("Failed to translate registration to dynamo model", err)
	}
	regExpr := exprMustBuild(expression.NewBuilder().
		WithCondition(newEntityVersionConditional(dynamoReg.Version)))

	pointerItem, err := attributevalue.MarshalMap(registrationIDDynamo{
		PK:      registrationIDPK(reg.ID),
		SK:      registrationIDPK(reg.ID),
		EventID: dynamoReg.EventID,
		UserID:  dynamoReg.UserID,
	})
	if err != nil {
		return registration.NewFailedToTranslateToDBModelError("Failed to translate registration id to dynamo model", err)
	}
	pointerExpr := exprMustBuild(expression.NewBuilder().
		WithCondition(expression.Name("PK").AttributeNotExists()))

	_, err = d.dynamoClient.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                 aws.String(d.tableName),
					Item:                      regItem,
					ConditionExpression:       regExpr.Condition(),
					ExpressionAttributeNames:  regExpr.Names(),
					ExpressionAttributeValues: regExpr.Values(),
				},
			},
			{
				Put: &types.Put{
					TableName:                 aws.String(d.tableName),
					Item:                      pointerItem,
					ConditionExpression:       pointerExpr.Condition(),
					ExpressionAttributeNames:  pointerExpr.Names(),
					ExpressionAttributeValues: pointerExpr.Values(),
				},
			},
		},
	})
	if err != nil {
		return createRegistrationError(reg, err)
	}

	return nil
}

// createRegistrationError maps a failed create transaction. Index 0 is the
// registration item, index 1 the id pointer.
func createRegistrationError(reg registration.Registration, err error) error {
	switch {
	case cancellationCode(err, 0) == conditionalCheckFailed:
		return registration.NewRegistrationAlreadyExistsError(fmt.Sprintf("User %q is already registered for event %q", reg.UserID, reg.EventID), err)
	case cancellationCode(err, 0) == transactionConflict:
		// Both conflicting transactions can be cancelled, so nothing is
		// known to be stored. Safe to retry.
		return registration.NewFailedToWriteError(fmt.Sprintf("Registration for user %q and event %q conflicted with a concurrent write", reg.UserID, reg.EventID), err)
	case cancellationCode(err, 1) == conditionalCheckFailed:
		return registration.NewFailedToWriteError(fmt.Sprintf("Registration ID %q is already in use", reg.ID), err)
	case errors.Is(err, context.DeadlineExceeded):
		return registration.NewTimeoutError("CreateRegistration timed out")
	default:
		return registration.NewFailedToWriteError("Failed TransactWriteItems call", err)
	}
}

func (d *DB) GetRegistration(ctx context.Context, eventId uuid.UUID, userId string) (registration.Registration, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	return d.getRegistration(ctx, eventId, userId)
}

func (d *DB) getRegistration(ctx context.Context, eventId uuid.UUID, userId string) (registration.Registration, error) {
	resp, err := d.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            registrationKey(eventId, userId),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return registration.Registration{}, registration.NewTimeoutError("GetRegistration timed out")
		}
		return registration.Registration{}, registration.NewFailedToFetchError(fmt.Sprintf("Failed to fetch registration for event %q and user %q", eventId, userId), err)
	}

	if len(resp.Item) == 0 {
		return registration.Registration{}, registration.NewRegistrationDoesNotExistsError(fmt.Sprintf("Registration for event %q and user %q not found", eventId, userId), nil)
	}

	var dynReg registrationDynamo
	err = attributevalue.UnmarshalMap(resp.Item, &dynReg)
	if err != nil {
		return registration.Registration{}, registration.NewFailedToTranslateToDBModelError("Failed to unmarshal registration from dynamo", err)
	}

	reg, err := dynamoToRegistration(dynReg)
	if err != nil {
		return registration.Registration{}, registration.NewFailedToTranslateToDBModelError("Stored registration is malformed", err)
	}
	return reg, nil
}

func (d *DB) GetRegistrationByID(ctx context.Context, id uuid.UUID) (registration.Registration, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	resp, err := d.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            registrationIDKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return registration.Registration{}, registration.NewTimeoutError("GetRegistrationByID timed out")
		}
		return registration.Registration{}, registration.NewFailedToFetchError(fmt.Sprintf("Failed to fetch registration with ID %q", id), err)
	}

	if len(resp.Item) == 0 {
		return registration.Registration{}, registration.NewRegistrationDoesNotExistsError(fmt.Sprintf("Registration with ID %q not found", id), nil)
	}

	var pointer registrationIDDynamo
	err = attributevalue.UnmarshalMap(resp.Item, &pointer)
	if err != nil {
		return registration.Registration{}, registration.NewFailedToTranslateToDBModelError("Failed to unmarshal registration id from dynamo", err)
	}

	eventId, err := uuid.Parse(pointer.EventID)
	if err != nil {
		return registration.Registration{}, registration.NewFailedToTranslateToDBModelError("Stored registration id is malformed", err)
	}

	return d.getRegistration(ctx, eventId, pointer.UserID)
}

func (d *DB) UpdateRegistrationStatus(ctx context.Context, reg registration.Registration, fromStatus registration.Status, approvedDelta int) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	regExpr := exprMustBuild(expression.NewBuilder().
		WithCondition(existingEntityVersionConditional(reg.Version).
			And(expression.Name("Status").Equal(expression.Value(fromStatus.String())))).
		WithUpdate(expression.Set(expression.Name("Status"), expression.Value(reg.Status.String())).
			Set(expression.Name("Version"), expression.Value(reg.Version)).
			Set(expression.Name("UpdatedAt"), expression.Value(reg.UpdatedAt))))

	items := []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:                 aws.String(d.tableName),
				Key:                       registrationKey(reg.EventID, reg.UserID),
				ConditionExpression:       regExpr.Condition(),
				UpdateExpression:          regExpr.Update(),
				ExpressionAttributeNames:  regExpr.Names(),
				ExpressionAttributeValues: regExpr.Values(),
			},
		},
	}

	if approvedDelta != 0 {
		eventExpr := exprMustBuild(expression.NewBuilder().
			WithCondition(expression.Name("PK").AttributeExists()).
			WithUpdate(expression.Add(expression.Name("ApprovedCount"), expression.Value(approvedDelta)).
				Add(expression.Name("Version"), expression.Value(1))))

		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(d.tableName),
				Key:                       eventKey(reg.EventID),
				ConditionExpression:       eventExpr.Condition(),
				UpdateExpression:          eventExpr.Update(),
				ExpressionAttributeNames:  eventExpr.Names(),
				ExpressionAttributeValues: eventExpr.Values(),
			},
		})
	}

	_, err := d.dynamoClient.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		switch {
		case cancellationCode(err, 0) == conditionalCheckFailed, cancellationCode(err, 0) == transactionConflict, cancellationCode(err, 1) == transactionConflict:
			return registration.NewStatusConflictError(fmt.Sprintf("Registration %q is no longer %s at version %d", reg.ID, fromStatus, reg.Version-1), err)
		case cancellationCode(err, 1) == conditionalCheckFailed:
			return registration.NewAssociatedEventDoesNotExistError(fmt.Sprintf("Event with ID %q does not exist", reg.EventID), err)
		case errors.Is(err, context.DeadlineExceeded):
			return registration.NewTimeoutError("UpdateRegistrationStatus timed out")
		default:
			return registration.NewFailedToWriteError("Failed TransactWriteItems call", err)
		}
	}

	return nil
}

func (d *DB) ListRegistrations(ctx context.Context, eventId uuid.UUID, limit int32, cursor *string) (registration.ListRegistrationsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	keyCond := expression.Key("PK").Equal(expression.Value(registrationPK(eventId))).
		And(expression.Key("SK").BeginsWith(registrationEntityName + "#"))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build dynamo key expression: %s", err))
	}

	var startKey map[string]types.AttributeValue
	if cursor != nil {
		startKey, err = cursorToLastEval(*cursor)
		if err != nil {
			return registration.ListRegistrationsResponse{}, registration.NewInvalidCursorError("Invalid cursor", err)
		}
		if !cursorInPartition(startKey, registrationPK(eventId), registrationEntityName) {
			return registration.ListRegistrationsResponse{}, registration.NewInvalidCursorError("Cursor belongs to a different event", nil)
		}
	}

	result, err := d.dynamoClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
		// Fetch 1 more than limit to check if there is another page or not
		Limit:             aws.Int32(limit + 1),
		ExclusiveStartKey: startKey,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return registration.ListRegistrationsResponse{}, registration.NewTimeoutError("ListRegistrations timed out")
		}
		return registration.ListRegistrationsResponse{}, registration.NewFailedToFetchError("Failed to fetch registrations from dynamo", err)
	}

	var dynamoItems []registrationDynamo
	err = attributevalue.UnmarshalListOfMaps(result.Items, &dynamoItems)
	if err != nil {
		return registration.ListRegistrationsResponse{}, registration.NewFailedToTranslateToDBModelError("Failed to unmarshal registrations from dynamo", err)
	}

	hasNextPage := len(dynamoItems) > int(limit)

	var newCursor *string
	if hasNextPage && len(result.LastEvaluatedKey) > 0 {
		// Can't use LastEvalKey directly because we grabbed an extra item to check for next page
		lastItemGivenToUser := result.Items[limit-1]
		lastItemKey := getKeyFromItem(result.LastEvaluatedKey, lastItemGivenToUser)
		c, err := lastEvalKeyToCursor(lastItemKey)
		if err != nil {
			panic(fmt.Sprintf("failed to make cursor from lastEvalKey: %s", err))
		}
		newCursor = &c
	}

	regs := make([]registration.Registration, 0, len(dynamoItems))
	for _, item := range dynamoItems[:min(int(limit), len(dynamoItems))] {
		reg, err := dynamoToRegistration(item)
		if err != nil {
			return registration.ListRegistrationsResponse{}, registration.NewFailedToTranslateToDBModelError("Stored registration is malformed", err)
		}
		regs = append(regs, reg)
	}

	return registration.ListRegistrationsResponse{
		Data:        regs,
		Cursor:      newCursor,
		HasNextPage: hasNextPage,
	}, nil
}
