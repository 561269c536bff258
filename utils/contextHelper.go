package utils

import (
	"context"

	"github.com/hankstore/ebms_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyIssuerTIN     = appctx.ContextKeyIssuerTIN
	ContextKeySystemId      = appctx.ContextKeySystemId
	ContextKeyActorId       = appctx.ContextKeyActorId
	ContextKeyActorName     = appctx.ContextKeyActorName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetIssuerTINFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyIssuerTIN)
}

func GetSystemIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySystemId)
}

func GetActorIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyActorId)
}

func GetActorNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetIssuerTINInContext(ctx context.Context, tin string) context.Context {
	return appctx.Set(ctx, ContextKeyIssuerTIN, tin)
}

func SetSystemIdInContext(ctx context.Context, systemId string) context.Context {
	return appctx.Set(ctx, ContextKeySystemId, systemId)
}

func SetActorIdInContext(ctx context.Context, actorId int) context.Context {
	return appctx.Set(ctx, ContextKeyActorId, actorId)
}

func SetActorNameInContext(ctx context.Context, name string) context.Context {
	return appctx.Set(ctx, ContextKeyActorName, name)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
