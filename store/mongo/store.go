// Package mongo implements the prepaid store on MongoDB. Exactly-once
// redemption rides on a conditional findOneAndUpdate of the token
// document; balance mutations use filtered $inc updates so the floor
// condition is evaluated server-side.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aquastack/prepaid"
	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/property"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/store"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// Collection name constants.
const (
	colProperties = "prepaid_properties"
	colSchedules  = "prepaid_rate_schedules"
	colTokens     = "prepaid_tokens"
	colReadings   = "prepaid_meter_readings"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and scopes the store to the named database.
func New(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("prepaid/mongo: connect: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Migrate creates indexes for all prepaid collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: %s indexes: %v", prepaid.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colProperties: {
			{
				Keys: bson.D{{Key: "meter_number", Value: 1}},
				Options: options.Index().SetName("idx_properties_meter").SetUnique(true).
					SetPartialFilterExpression(bson.M{"meter_number": bson.M{"$gt": ""}}),
			},
		},
		colSchedules: {
			{
				Keys:    bson.D{{Key: "category", Value: 1}, {Key: "effective_from", Value: 1}},
				Options: options.Index().SetName("idx_rates_category_from"),
			},
		},
		colTokens: {
			{
				Keys:    bson.D{{Key: "code", Value: 1}},
				Options: options.Index().SetName("idx_tokens_code").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "payment_id", Value: 1}},
				Options: options.Index().SetName("idx_tokens_payment").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "property_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_tokens_property"),
			},
		},
		colReadings: {
			{
				Keys:    bson.D{{Key: "property_id", Value: 1}, {Key: "reading_date", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetName("idx_readings_property_date"),
			},
		},
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", prepaid.ErrStoreNotReady, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Property store ====================

func (s *Store) CreateProperty(ctx context.Context, p *property.Property) error {
	_, err := s.db.Collection(colProperties).InsertOne(ctx, toPropertyModel(p))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: meter number %q", prepaid.ErrAlreadyExists, p.MeterNumber)
		}
		return fmt.Errorf("prepaid/mongo: create property: %w", err)
	}
	return nil
}

func (s *Store) GetProperty(ctx context.Context, propertyID id.PropertyID) (*property.Property, error) {
	var m propertyModel
	err := s.db.Collection(colProperties).FindOne(ctx, bson.M{"_id": propertyID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, propertyID)
		}
		return nil, fmt.Errorf("prepaid/mongo: get property: %w", err)
	}
	return fromPropertyModel(&m)
}

func (s *Store) GetPropertyByMeter(ctx context.Context, meterNumber string) (*property.Property, error) {
	var m propertyModel
	err := s.db.Collection(colProperties).FindOne(ctx, bson.M{"meter_number": meterNumber}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: meter %q", prepaid.ErrPropertyNotFound, meterNumber)
		}
		return nil, fmt.Errorf("prepaid/mongo: get property by meter: %w", err)
	}
	return fromPropertyModel(&m)
}

func (s *Store) UpdateProperty(ctx context.Context, p *property.Property) error {
	res, err := s.db.Collection(colProperties).UpdateOne(ctx,
		bson.M{"_id": p.ID.String()},
		bson.M{"$set": bson.M{
			"meter_number": p.MeterNumber,
			"category":     string(p.Category),
			"address":      p.Address,
			"updated_at":   time.Now().UTC(),
		}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: meter number %q", prepaid.ErrAlreadyExists, p.MeterNumber)
		}
		return fmt.Errorf("prepaid/mongo: update property: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, p.ID)
	}
	return nil
}

// ==================== Rate schedule store ====================

func (s *Store) ActivateSchedule(ctx context.Context, sched *rate.Schedule) error {
	col := s.db.Collection(colSchedules)

	// Close any open schedule first, then insert. The unique pattern the
	// engine relies on (one open schedule per category) tolerates the two
	// steps: a reader between them sees the category closed, never two
	// open windows.
	_, err := col.UpdateMany(ctx,
		bson.M{"category": string(sched.Category), "effective_until": nil},
		bson.M{"$set": bson.M{
			"effective_until": sched.EffectiveFrom,
			"updated_at":      time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("prepaid/mongo: close open schedule: %w", err)
	}

	if _, err := col.InsertOne(ctx, toScheduleModel(sched)); err != nil {
		return fmt.Errorf("prepaid/mongo: insert schedule: %w", err)
	}
	return nil
}

func (s *Store) ResolveSchedule(ctx context.Context, category rate.Category, at time.Time) (*rate.Schedule, error) {
	var m scheduleModel
	err := s.db.Collection(colSchedules).FindOne(ctx,
		bson.M{
			"category":       string(category),
			"effective_from": bson.M{"$lte": at},
			"$or": bson.A{
				bson.M{"effective_until": nil},
				bson.M{"effective_until": bson.M{"$gt": at}},
			},
		},
		options.FindOne().SetSort(bson.D{{Key: "effective_from", Value: -1}}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: category %s at %s", prepaid.ErrRateNotConfigured, category, at.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("prepaid/mongo: resolve schedule: %w", err)
	}
	return fromScheduleModel(&m)
}

func (s *Store) ListSchedules(ctx context.Context, category rate.Category) ([]*rate.Schedule, error) {
	cursor, err := s.db.Collection(colSchedules).Find(ctx,
		bson.M{"category": string(category)},
		options.Find().SetSort(bson.D{{Key: "effective_from", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("prepaid/mongo: list schedules: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*rate.Schedule
	for cursor.Next(ctx) {
		var m scheduleModel
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("prepaid/mongo: decode schedule: %w", err)
		}
		sched, err := fromScheduleModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, cursor.Err()
}

// ==================== Token store ====================

func (s *Store) CreateToken(ctx context.Context, t *token.Token) error {
	_, err := s.db.Collection(colTokens).InsertOne(ctx, toTokenModel(t))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "idx_tokens_code") {
				return fmt.Errorf("%w: code collision", prepaid.ErrDuplicateCode)
			}
			return fmt.Errorf("%w: token for payment %s", prepaid.ErrAlreadyExists, t.PaymentID)
		}
		return fmt.Errorf("prepaid/mongo: create token: %w", err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, tokenID id.TokenID) (*token.Token, error) {
	var m tokenModel
	err := s.db.Collection(colTokens).FindOne(ctx, bson.M{"_id": tokenID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: %s", prepaid.ErrTokenNotFound, tokenID)
		}
		return nil, fmt.Errorf("prepaid/mongo: get token: %w", err)
	}
	return fromTokenModel(&m)
}

func (s *Store) GetTokenByCode(ctx context.Context, code string) (*token.Token, error) {
	var m tokenModel
	err := s.db.Collection(colTokens).FindOne(ctx, bson.M{"code": code}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, prepaid.ErrTokenNotFound
		}
		return nil, fmt.Errorf("prepaid/mongo: get token by code: %w", err)
	}
	return fromTokenModel(&m)
}

func (s *Store) GetTokenByPayment(ctx context.Context, paymentID id.PaymentID) (*token.Token, error) {
	var m tokenModel
	err := s.db.Collection(colTokens).FindOne(ctx, bson.M{"payment_id": paymentID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: payment %s", prepaid.ErrTokenNotFound, paymentID)
		}
		return nil, fmt.Errorf("prepaid/mongo: get token by payment: %w", err)
	}
	return fromTokenModel(&m)
}

func (s *Store) ListTokens(ctx context.Context, propertyID id.PropertyID, opts store.TokenListOpts) ([]*token.Token, error) {
	filter := bson.M{"property_id": propertyID.String()}
	if opts.Redeemed != nil {
		filter["is_redeemed"] = *opts.Redeemed
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit)).SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colTokens).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("prepaid/mongo: list tokens: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*token.Token
	for cursor.Next(ctx) {
		var m tokenModel
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("prepaid/mongo: decode token: %w", err)
		}
		t, err := fromTokenModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cursor.Err()
}

// ==================== Atomic balance operations ====================

func (s *Store) ApplyRedemption(ctx context.Context, tokenID id.TokenID, at time.Time) (*store.BalanceChange, error) {
	// The conditional findOneAndUpdate is the linearization point: the
	// filter on is_redeemed guarantees exactly one winner per token.
	var tm tokenModel
	err := s.db.Collection(colTokens).FindOneAndUpdate(ctx,
		bson.M{"_id": tokenID.String(), "is_redeemed": false},
		bson.M{"$set": bson.M{"is_redeemed": true, "redeemed_at": at, "updated_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&tm)
	if err != nil {
		if isNoDocuments(err) {
			var probe tokenModel
			err := s.db.Collection(colTokens).FindOne(ctx, bson.M{"_id": tokenID.String()}).Decode(&probe)
			if isNoDocuments(err) {
				return nil, fmt.Errorf("%w: %s", prepaid.ErrTokenNotFound, tokenID)
			}
			if err != nil {
				return nil, fmt.Errorf("prepaid/mongo: probe token: %w", err)
			}
			return nil, fmt.Errorf("%w: %s", prepaid.ErrTokenAlreadyRedeemed, tokenID)
		}
		return nil, fmt.Errorf("prepaid/mongo: mark token redeemed: %w", err)
	}

	var pm propertyModel
	err = s.db.Collection(colProperties).FindOneAndUpdate(ctx,
		bson.M{"_id": tm.PropertyID},
		bson.M{"$set": bson.M{"last_token_redemption": at, "updated_at": at},
			"$inc": bson.M{"current_balance": tm.Units}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&pm)
	if err != nil {
		// The credit failed after the token flip. Revert the flip so the
		// token stays redeemable and the caller can retry; otherwise the
		// units would be lost behind a permanently redeemed token.
		revertCtx := context.WithoutCancel(ctx)
		_, revertErr := s.db.Collection(colTokens).UpdateOne(revertCtx,
			bson.M{"_id": tokenID.String()},
			bson.M{"$set": bson.M{"is_redeemed": false, "updated_at": at},
				"$unset": bson.M{"redeemed_at": ""}},
		)
		if revertErr != nil {
			err = errors.Join(err, fmt.Errorf("prepaid/mongo: revert token flip: %w", revertErr))
		}
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, tm.PropertyID)
		}
		return nil, fmt.Errorf("prepaid/mongo: credit balance: %w", err)
	}

	propertyID, err := id.Parse(tm.PropertyID)
	if err != nil {
		return nil, err
	}
	return &store.BalanceChange{
		PropertyID: propertyID,
		Previous:   types.Centiunits(pm.CurrentBalance),
		Current:    types.Centiunits(pm.CurrentBalance + tm.Units),
		At:         at,
	}, nil
}

func (s *Store) ApplyConsumption(ctx context.Context, propertyID id.PropertyID, units types.Volume) (*store.BalanceChange, error) {
	now := time.Now().UTC()

	// The balance floor is enforced by the filter; a document whose
	// balance cannot cover the debit never matches.
	var pm propertyModel
	err := s.db.Collection(colProperties).FindOneAndUpdate(ctx,
		bson.M{"_id": propertyID.String(), "current_balance": bson.M{"$gte": units.Centi()}},
		bson.M{"$set": bson.M{"updated_at": now},
			"$inc": bson.M{"current_balance": -units.Centi(), "total_consumption": units.Centi()}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&pm)
	if err != nil {
		if isNoDocuments(err) {
			var probe propertyModel
			err := s.db.Collection(colProperties).FindOne(ctx, bson.M{"_id": propertyID.String()}).Decode(&probe)
			if isNoDocuments(err) {
				return nil, fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, propertyID)
			}
			if err != nil {
				return nil, fmt.Errorf("prepaid/mongo: probe property: %w", err)
			}
			return nil, fmt.Errorf("%w: balance %s, needed %s",
				prepaid.ErrInsufficientBalance, types.Centiunits(probe.CurrentBalance), units)
		}
		return nil, fmt.Errorf("prepaid/mongo: debit balance: %w", err)
	}

	return &store.BalanceChange{
		PropertyID: propertyID,
		Previous:   types.Centiunits(pm.CurrentBalance),
		Current:    types.Centiunits(pm.CurrentBalance - units.Centi()),
		At:         now,
	}, nil
}

// ==================== Meter reading store ====================

func (s *Store) CreateReading(ctx context.Context, r *reading.MeterReading) error {
	_, err := s.db.Collection(colReadings).InsertOne(ctx, toReadingModel(r))
	if err != nil {
		return fmt.Errorf("prepaid/mongo: create reading: %w", err)
	}
	return nil
}

func (s *Store) GetReading(ctx context.Context, readingID id.ReadingID) (*reading.MeterReading, error) {
	var m readingModel
	err := s.db.Collection(colReadings).FindOne(ctx, bson.M{"_id": readingID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: %s", prepaid.ErrReadingNotFound, readingID)
		}
		return nil, fmt.Errorf("prepaid/mongo: get reading: %w", err)
	}
	return fromReadingModel(&m)
}

func (s *Store) LatestReading(ctx context.Context, propertyID id.PropertyID) (*reading.MeterReading, error) {
	var m readingModel
	err := s.db.Collection(colReadings).FindOne(ctx,
		bson.M{"property_id": propertyID.String()},
		options.FindOne().SetSort(bson.D{{Key: "reading_date", Value: -1}, {Key: "created_at", Value: -1}}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: property %s", prepaid.ErrReadingNotFound, propertyID)
		}
		return nil, fmt.Errorf("prepaid/mongo: latest reading: %w", err)
	}
	return fromReadingModel(&m)
}

func (s *Store) ListReadings(ctx context.Context, propertyID id.PropertyID, opts reading.ListOpts) ([]*reading.MeterReading, error) {
	filter := bson.M{"property_id": propertyID.String()}
	dateFilter := bson.M{}
	if !opts.Start.IsZero() {
		dateFilter["$gte"] = opts.Start
	}
	if !opts.End.IsZero() {
		dateFilter["$lt"] = opts.End
	}
	if len(dateFilter) > 0 {
		filter["reading_date"] = dateFilter
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "reading_date", Value: 1}, {Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit)).SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colReadings).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("prepaid/mongo: list readings: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*reading.MeterReading
	for cursor.Next(ctx) {
		var m readingModel
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("prepaid/mongo: decode reading: %w", err)
		}
		r, err := fromReadingModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, cursor.Err()
}

func (s *Store) ApplyAmendment(ctx context.Context, r *reading.MeterReading, delta types.Volume) (*store.BalanceChange, error) {
	now := time.Now().UTC()

	filter := bson.M{"_id": r.PropertyID.String()}
	if delta.IsPositive() {
		filter["current_balance"] = bson.M{"$gte": delta.Centi()}
	}
	var pm propertyModel
	err := s.db.Collection(colProperties).FindOneAndUpdate(ctx,
		filter,
		bson.M{"$set": bson.M{"updated_at": now},
			"$inc": bson.M{"current_balance": -delta.Centi(), "total_consumption": delta.Centi()}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&pm)
	if err != nil {
		if isNoDocuments(err) {
			var probe propertyModel
			err := s.db.Collection(colProperties).FindOne(ctx, bson.M{"_id": r.PropertyID.String()}).Decode(&probe)
			if isNoDocuments(err) {
				return nil, fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, r.PropertyID)
			}
			if err != nil {
				return nil, fmt.Errorf("prepaid/mongo: probe property: %w", err)
			}
			return nil, fmt.Errorf("%w: balance %s, needed %s",
				prepaid.ErrInsufficientBalance, types.Centiunits(probe.CurrentBalance), delta)
		}
		return nil, fmt.Errorf("prepaid/mongo: compensate balance: %w", err)
	}

	res, err := s.db.Collection(colReadings).UpdateOne(ctx,
		bson.M{"_id": r.ID.String()},
		bson.M{"$set": bson.M{
			"reading":         r.Reading.Centi(),
			"consumption":     r.Consumption.Centi(),
			"is_estimated":    r.IsEstimated,
			"billing_applied": r.BillingApplied,
			"notes":           r.Notes,
			"updated_at":      now,
		}},
	)
	if err != nil || res.MatchedCount == 0 {
		// The reading rewrite failed after the balance was compensated.
		// Revert the compensation so the property and its rows stay
		// consistent.
		revertCtx := context.WithoutCancel(ctx)
		_, revertErr := s.db.Collection(colProperties).UpdateOne(revertCtx,
			bson.M{"_id": r.PropertyID.String()},
			bson.M{"$set": bson.M{"updated_at": now},
				"$inc": bson.M{"current_balance": delta.Centi(), "total_consumption": -delta.Centi()}},
		)
		if res != nil && res.MatchedCount == 0 && err == nil {
			err = fmt.Errorf("%w: %s", prepaid.ErrReadingNotFound, r.ID)
		} else if err != nil {
			err = fmt.Errorf("prepaid/mongo: amend reading: %w", err)
		}
		if revertErr != nil {
			err = errors.Join(err, fmt.Errorf("prepaid/mongo: revert compensation: %w", revertErr))
		}
		return nil, err
	}

	return &store.BalanceChange{
		PropertyID: r.PropertyID,
		Previous:   types.Centiunits(pm.CurrentBalance),
		Current:    types.Centiunits(pm.CurrentBalance - delta.Centi()),
		At:         now,
	}, nil
}

// ==================== Helpers ====================

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
