package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/hitoshi/commentboard/internal/model"
)

// MongoDBのコレクション名。
const (
	UsersCollection    = "users"
	SessionsCollection = "sessions"
	CommentsCollection = "comments"
)

type mongoUser struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	ProviderID string        `bson:"providerId"`
	Name       string        `bson:"name"`
	Email      string        `bson:"email"`
	ProfilePic string        `bson:"profilePic"`
	CreatedAt  time.Time     `bson:"createdAt"`
	UpdatedAt  time.Time     `bson:"updatedAt"`
}

func (d *mongoUser) toModel() *model.User {
	return &model.User{
		ID:                d.ID.Hex(),
		ProviderID:        d.ProviderID,
		Name:              d.Name,
		Email:             d.Email,
		ProfilePictureURL: d.ProfilePic,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	users    *mongo.Collection
	comments *MongoCommentRepo
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{
		users:    db.Collection(UsersCollection),
		comments: NewMongoCommentRepo(db),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	user, err := r.findOne(ctx, bson.M{"_id": oid})
	if err != nil || user == nil {
		return user, err
	}

	liked, err := r.comments.LikedCommentIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.LikedCommentIDs = liked
	return user, nil
}

// FindByProviderID はIdPのユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByProviderID(ctx context.Context, providerID string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"providerId": providerID})
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc mongoUser
	err := r.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toModel(), nil
}

// Create はユーザーを作成し、採番したIDを user.ID に設定する。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	doc := mongoUser{
		ID:         bson.NewObjectID(),
		ProviderID: user.ProviderID,
		Name:       user.Name,
		Email:      user.Email,
		ProfilePic: user.ProfilePictureURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = doc.ID.Hex()
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// UpdateProfile は表示名・メールアドレス・プロフィール画像を上書きする。
func (r *MongoUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	oid, err := bson.ObjectIDFromHex(user.ID)
	if err != nil {
		return ErrInvalidID
	}

	now := time.Now().UTC()
	_, err = r.users.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"name":       user.Name,
		"email":      user.Email,
		"profilePic": user.ProfilePictureURL,
		"updatedAt":  now,
	}})
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	user.UpdatedAt = now
	return nil
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
