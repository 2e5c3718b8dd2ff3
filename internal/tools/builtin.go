// ABOUTME: The builtin tool set: five user CRUD tools plus the natural-language query tool.
// ABOUTME: Handlers call the store with validated arguments; free text goes through the nlq gate.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/gatekeep/internal/nlq"
	"github.com/2389/gatekeep/internal/store"
)

// UserTools builds the descriptors for the user directory tool set.
// query_with_llm is the only tool that consumes free text; everything it
// proposes passes the nlq gate before the store sees it.
func UserTools(st store.Store, translator *nlq.Translator) []*Descriptor {
	return []*Descriptor{
		{
			Name:        "insert_user",
			Description: "Insert a new user into the database",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"username":   {"type": "string", "minLength": 1, "description": "Unique username"},
					"email":      {"type": "string", "minLength": 1, "description": "User's email address"},
					"first_name": {"type": "string", "description": "User's first name (optional)"},
					"last_name":  {"type": "string", "description": "User's last name (optional)"}
				},
				"required": ["username", "email"],
				"additionalProperties": false
			}`),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				u, err := st.InsertUser(ctx, store.NewUser{
					Username:  stringArg(args, "username"),
					Email:     stringArg(args, "email"),
					FirstName: optStringArg(args, "first_name"),
					LastName:  optStringArg(args, "last_name"),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"success": true, "user": u}, nil
			},
		},
		{
			Name:        "get_users",
			Description: "Get all users from the database",
			ReadOnly:    true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {},
				"additionalProperties": false
			}`),
			Handler: func(ctx context.Context, _ map[string]any) (any, error) {
				users, err := st.ListUsers(ctx)
				if err != nil {
					return nil, err
				}
				if users == nil {
					users = []*store.User{}
				}
				return map[string]any{"users": users}, nil
			},
		},
		{
			Name:        "get_user_by_id",
			Description: "Get a specific user by ID",
			ReadOnly:    true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"user_id": {"type": "integer", "description": "The ID of the user to retrieve"}
				},
				"required": ["user_id"],
				"additionalProperties": false
			}`),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				u, err := st.GetUser(ctx, intArg(args, "user_id"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"user": u}, nil
			},
		},
		{
			Name:        "update_user",
			Description: "Update an existing user",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"user_id":    {"type": "integer", "description": "The ID of the user to update"},
					"username":   {"type": "string", "minLength": 1, "description": "New username (optional)"},
					"email":      {"type": "string", "minLength": 1, "description": "New email (optional)"},
					"first_name": {"type": "string", "description": "New first name (optional)"},
					"last_name":  {"type": "string", "description": "New last name (optional)"}
				},
				"required": ["user_id"],
				"additionalProperties": false
			}`),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				u, err := st.UpdateUser(ctx, intArg(args, "user_id"), store.UserPatch{
					Username:  optStringArg(args, "username"),
					Email:     optStringArg(args, "email"),
					FirstName: optStringArg(args, "first_name"),
					LastName:  optStringArg(args, "last_name"),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"success": true, "user": u}, nil
			},
		},
		{
			Name:        "delete_user",
			Description: "Delete a user from the database",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"user_id": {"type": "integer", "description": "The ID of the user to delete"}
				},
				"required": ["user_id"],
				"additionalProperties": false
			}`),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				if err := st.DeleteUser(ctx, intArg(args, "user_id")); err != nil {
					return nil, err
				}
				return map[string]any{"success": true, "message": "User deleted successfully"}, nil
			},
		},
		{
			Name:        "query_with_llm",
			Description: "Query the user directory using natural language",
			ReadOnly:    true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1, "description": "Natural language query about the users"}
				},
				"required": ["query"],
				"additionalProperties": false
			}`),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				candidate, err := translator.Translate(ctx, stringArg(args, "query"))
				if err != nil {
					return nil, err
				}

				safe, err := nlq.Sanitize(candidate)
				if err != nil {
					return nil, err
				}

				rows, err := st.SearchUsers(ctx, safe)
				if err != nil {
					return nil, err
				}
				if rows == nil {
					rows = []map[string]any{}
				}
				return map[string]any{"success": true, "users": rows, "count": len(rows)}, nil
			},
		},
	}
}

// stringArg reads a required string argument. Schema validation guarantees
// presence and type before handlers run.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// optStringArg reads an optional string argument, nil when absent.
func optStringArg(args map[string]any, key string) *string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

// intArg reads a required integer argument decoded from JSON.
func intArg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	case int:
		return int64(v)
	default:
		panic(fmt.Sprintf("argument %q not validated as integer", key))
	}
}
