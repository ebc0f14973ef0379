package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hitoshi/commentboard/internal/model"
)

// maxToggleAttempts は並行トグルで状態が入れ替わった場合に条件付き更新を評価し直す上限。
const maxToggleAttempts = 5

type mongoComment struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Text      string        `bson:"text"`
	Likes     int           `bson:"likes"`
	Replies   []string      `bson:"replies"`
	UserID    string        `bson:"userid"`
	Username  string        `bson:"username"`
	LikedBy   []string      `bson:"likedBy"`
	CreatedAt time.Time     `bson:"createdAt"`
}

func (d *mongoComment) toModel() *model.Comment {
	replies := d.Replies
	if replies == nil {
		replies = []string{}
	}
	return &model.Comment{
		ID:           d.ID.Hex(),
		Text:         d.Text,
		Likes:        d.Likes,
		Replies:      replies,
		AuthorUserID: d.UserID,
		AuthorName:   d.Username,
		CreatedAt:    d.CreatedAt,
	}
}

// MongoCommentRepo はMongoDBを使用したコメントリポジトリ。
// いいねしたユーザーはコメント文書の likedBy に保持し、likes と同じ文書更新で変更する。
type MongoCommentRepo struct {
	comments *mongo.Collection
}

// NewMongoCommentRepo はMongoCommentRepoを生成する。
func NewMongoCommentRepo(db *mongo.Database) *MongoCommentRepo {
	return &MongoCommentRepo{comments: db.Collection(CommentsCollection)}
}

// List は全コメントを新しい順で返す。
func (r *MongoCommentRepo) List(ctx context.Context) ([]*model.Comment, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetProjection(bson.M{"likedBy": 0})

	cur, err := r.comments.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer cur.Close(ctx)

	var docs []mongoComment
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}

	comments := make([]*model.Comment, 0, len(docs))
	for i := range docs {
		comments = append(comments, docs[i].toModel())
	}
	return comments, nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *MongoCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	var doc mongoComment
	err = r.comments.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	return doc.toModel(), nil
}

// Create はコメントを作成し、ID と CreatedAt を設定する。
func (r *MongoCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	replies := comment.Replies
	if replies == nil {
		replies = []string{}
	}
	doc := mongoComment{
		ID:        bson.NewObjectID(),
		Text:      comment.Text,
		Likes:     0,
		Replies:   replies,
		UserID:    comment.AuthorUserID,
		Username:  comment.AuthorName,
		LikedBy:   []string{},
		CreatedAt: time.Now().UTC(),
	}

	if _, err := r.comments.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}

	comment.ID = doc.ID.Hex()
	comment.Likes = 0
	comment.Replies = replies
	comment.CreatedAt = doc.CreatedAt
	return nil
}

// AppendReply は返信を末尾に追加し、更新後のコメントを返す。
func (r *MongoCommentRepo) AppendReply(ctx context.Context, id, reply string) (*model.Comment, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	var doc mongoComment
	err = r.comments.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{"replies": reply}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append reply: %w", err)
	}
	return doc.toModel(), nil
}

// Delete はコメントを削除する。いいね関係は同じ文書に含まれるため同時に消える。
func (r *MongoCommentRepo) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, ErrInvalidID
	}

	result, err := r.comments.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, fmt.Errorf("failed to delete comment: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// ToggleLike はユーザーのいいね状態を反転する。
// likedBy の状態を条件にした単一文書の更新で、集合といいね数を同時に変更する。
// どちらの条件にも一致せずコメントが残っている場合は、同じユーザーのトグルが間に割り込んでいる。
// そのときだけ現在の状態で評価し直す。書き込みエラーは再試行せずそのまま返す。
func (r *MongoCommentRepo) ToggleLike(ctx context.Context, userID, commentID string) (*model.LikeResult, error) {
	oid, err := bson.ObjectIDFromHex(commentID)
	if err != nil {
		return nil, ErrInvalidID
	}

	for attempt := 0; attempt < maxToggleAttempts; attempt++ {
		// 1. 未いいねならいいねする
		likes, ok, err := r.applyToggle(ctx,
			bson.M{"_id": oid, "likedBy": bson.M{"$ne": userID}},
			bson.M{"$addToSet": bson.M{"likedBy": userID}, "$inc": bson.M{"likes": 1}},
		)
		if err != nil {
			return nil, err
		}
		if ok {
			return &model.LikeResult{CommentID: commentID, Liked: true, Likes: likes}, nil
		}

		// 2. いいね済みなら取り消す
		likes, ok, err = r.applyToggle(ctx,
			bson.M{"_id": oid, "likedBy": userID},
			bson.M{"$pull": bson.M{"likedBy": userID}, "$inc": bson.M{"likes": -1}},
		)
		if err != nil {
			return nil, err
		}
		if ok {
			return &model.LikeResult{CommentID: commentID, Liked: false, Likes: likes}, nil
		}

		// 3. どちらも一致しない場合は削除されたか、並行トグルと競合した
		n, err := r.comments.CountDocuments(ctx, bson.M{"_id": oid})
		if err != nil {
			return nil, fmt.Errorf("failed to count comment: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
	}

	return nil, fmt.Errorf("failed to toggle like: too many concurrent updates on %s", commentID)
}

func (r *MongoCommentRepo) applyToggle(ctx context.Context, filter, update bson.M) (int, bool, error) {
	var doc struct {
		Likes int `bson:"likes"`
	}
	err := r.comments.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"likes": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to toggle like: %w", err)
	}
	return doc.Likes, true, nil
}

// LikedCommentIDs はユーザーがいいねしているコメントIDを返す。
func (r *MongoCommentRepo) LikedCommentIDs(ctx context.Context, userID string) ([]string, error) {
	cur, err := r.comments.Find(ctx,
		bson.M{"likedBy": userID},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query liked comments: %w", err)
	}
	defer cur.Close(ctx)

	var docs []struct {
		ID bson.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode liked comments: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID.Hex())
	}
	return ids, nil
}

// compile-time interface check
var _ CommentRepository = (*MongoCommentRepo)(nil)
