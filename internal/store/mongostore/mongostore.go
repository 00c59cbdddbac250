// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vvakame/libraryql/internal/keylock"
	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/model"
	"github.com/vvakame/libraryql/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	books   *mongo.Collection
	authors *mongo.Collection
	users   *mongo.Collection

	// serializes EnsureAuthor per name; authors.name has no unique index
	authorLocks *keylock.KeyedMutex
}

type authorDoc struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	Name string             `bson:"name"`
	Born *int               `bson:"born,omitempty"`
}

type bookDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Title     string             `bson:"title"`
	Published int                `bson:"published"`
	Genres    []string           `bson:"genres"`
	Author    primitive.ObjectID `bson:"author"`
}

type userDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Username      string             `bson:"username"`
	FavoriteGenre string             `bson:"favoriteGenre"`
}

// Open connects to uri, checks the connection and creates the indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := New(client, database)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	log.FromContext(ctx).Info("connected to mongodb", "database", database)
	return s, nil
}

// New wraps an established client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:  client,
		db:      db,
		books:   db.Collection("books"),
		authors: db.Collection("authors"),
		users:   db.Collection("users"),

		authorLocks: keylock.New(),
	}
}

// EnsureIndexes creates the lookup indexes. authors.name is deliberately not
// unique: addAuthor may create several authors with one name.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}
	_, err = s.authors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create authors index: %w", err)
	}
	_, err = s.books.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "author", Value: 1}}},
		{Keys: bson.D{{Key: "genres", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create books indexes: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes every collection. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) CountBooks(ctx context.Context, filter store.BookFilter) (int, error) {
	q, ok := bookQuery(filter)
	if !ok {
		return 0, nil
	}
	n, err := s.books.CountDocuments(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return int(n), nil
}

func (s *Store) FindBooks(ctx context.Context, filter store.BookFilter) ([]*model.Book, error) {
	q, ok := bookQuery(filter)
	if !ok {
		return []*model.Book{}, nil
	}
	cur, err := s.books.Find(ctx, q, byInsertion())
	if err != nil {
		return nil, fmt.Errorf("find books: %w", err)
	}
	var docs []bookDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode books: %w", err)
	}
	books := make([]*model.Book, 0, len(docs))
	for _, doc := range docs {
		books = append(books, doc.model())
	}
	return books, nil
}

func (s *Store) InsertBook(ctx context.Context, book *model.Book) error {
	authorID, err := primitive.ObjectIDFromHex(book.AuthorID)
	if err != nil {
		return fmt.Errorf("insert book: author id %q: %w", book.AuthorID, err)
	}
	doc := bookDoc{
		ID:        primitive.NewObjectID(),
		Title:     book.Title,
		Published: book.Published,
		Genres:    book.Genres,
		Author:    authorID,
	}
	if doc.Genres == nil {
		doc.Genres = []string{}
	}
	if _, err := s.books.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	book.ID = doc.ID.Hex()
	return nil
}

func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	n, err := s.authors.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count authors: %w", err)
	}
	return int(n), nil
}

func (s *Store) FindAuthors(ctx context.Context, filter store.AuthorFilter) ([]*model.Author, error) {
	q := bson.D{}
	if filter.Name != "" {
		q = append(q, bson.E{Key: "name", Value: filter.Name})
	}
	cur, err := s.authors.Find(ctx, q, byInsertion())
	if err != nil {
		return nil, fmt.Errorf("find authors: %w", err)
	}
	var docs []authorDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode authors: %w", err)
	}
	authors := make([]*model.Author, 0, len(docs))
	for _, doc := range docs {
		authors = append(authors, doc.model())
	}
	return authors, nil
}

func (s *Store) FindAuthorByID(ctx context.Context, id string) (*model.Author, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// not an id this store could have issued
		return nil, nil
	}
	return s.findAuthor(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *Store) FindAuthorByName(ctx context.Context, name string) (*model.Author, error) {
	return s.findAuthor(ctx, bson.D{{Key: "name", Value: name}})
}

func (s *Store) findAuthor(ctx context.Context, q bson.D) (*model.Author, error) {
	var doc authorDoc
	err := s.authors.FindOne(ctx, q, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find author: %w", err)
	}
	return doc.model(), nil
}

func (s *Store) InsertAuthor(ctx context.Context, author *model.Author) error {
	doc := authorDoc{ID: primitive.NewObjectID(), Name: author.Name, Born: author.Born}
	if _, err := s.authors.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert author: %w", err)
	}
	author.ID = doc.ID.Hex()
	return nil
}

// EnsureAuthor upserts by name. Without a unique index two concurrent upserts
// may both insert, so calls for the same name are serialized in process.
func (s *Store) EnsureAuthor(ctx context.Context, name string) (*model.Author, bool, error) {
	unlock, err := s.authorLocks.Lock(ctx, name)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	res, err := s.authors.UpdateOne(ctx,
		bson.D{{Key: "name", Value: name}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "name", Value: name}}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert author: %w", err)
	}
	if oid, ok := res.UpsertedID.(primitive.ObjectID); ok {
		return &model.Author{ID: oid.Hex(), Name: name}, true, nil
	}

	author, err := s.FindAuthorByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if author == nil {
		return nil, false, fmt.Errorf("upsert author: %q vanished after upsert", name)
	}
	return author, false, nil
}

func (s *Store) SetAuthorBorn(ctx context.Context, id string, born int) (*model.Author, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	var doc authorDoc
	err = s.authors.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "born", Value: born}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("set author born: %w", err)
	}
	return doc.model(), nil
}

func (s *Store) InsertUser(ctx context.Context, user *model.User) error {
	doc := userDoc{ID: primitive.NewObjectID(), Username: user.Username, FavoriteGenre: user.FavoriteGenre}
	_, err := s.users.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert user %q: %w", user.Username, store.ErrDuplicate)
	} else if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID = doc.ID.Hex()
	return nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return s.findUser(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findUser(ctx, bson.D{{Key: "username", Value: username}})
}

func (s *Store) findUser(ctx context.Context, q bson.D) (*model.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, q).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &model.User{ID: doc.ID.Hex(), Username: doc.Username, FavoriteGenre: doc.FavoriteGenre}, nil
}

// bookQuery reports false when the filter cannot match anything.
func bookQuery(filter store.BookFilter) (bson.D, bool) {
	q := bson.D{}
	if len(filter.AuthorIDs) != 0 {
		oids := make([]primitive.ObjectID, 0, len(filter.AuthorIDs))
		for _, id := range filter.AuthorIDs {
			oid, err := primitive.ObjectIDFromHex(id)
			if err != nil {
				continue
			}
			oids = append(oids, oid)
		}
		if len(oids) == 0 {
			return nil, false
		}
		q = append(q, bson.E{Key: "author", Value: bson.D{{Key: "$in", Value: oids}}})
	}
	if filter.Genre != "" {
		q = append(q, bson.E{Key: "genres", Value: filter.Genre})
	}
	return q, true
}

func byInsertion() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
}

func (doc authorDoc) model() *model.Author {
	return &model.Author{ID: doc.ID.Hex(), Name: doc.Name, Born: doc.Born}
}

func (doc bookDoc) model() *model.Book {
	genres := doc.Genres
	if genres == nil {
		genres = []string{}
	}
	return &model.Book{
		ID:        doc.ID.Hex(),
		Title:     doc.Title,
		Published: doc.Published,
		Genres:    genres,
		AuthorID:  doc.Author.Hex(),
	}
}
