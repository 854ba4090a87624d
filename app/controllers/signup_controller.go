package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
	"github.com/provado-app/provado/internal/pkg/claims"
	"github.com/provado-app/provado/internal/pkg/env"
	"github.com/provado-app/provado/internal/pkg/session"
)

// SignupCompleteRequest finishes account creation for a paying customer. One
// of the three credentials must be present; the claim token is the current
// flow, the other two are legacy link formats still in circulation.
type SignupCompleteRequest struct {
	ClaimToken  string `json:"claim_token"`
	SignupToken string `json:"signup_token"`
	OrderID     string `json:"order_id"`
	Name        string `json:"name"`
	Password    string `json:"password"`
	ExternalID  string `json:"external_id"`
}

func signupIssuer() *claims.Issuer {
	repos := repository.GetGlobalRepositories()
	return claims.NewIssuer(repos.Claim, repos.Order, env.GetEnv("LEGACY_SIGNUP_TOKEN_SECRET", ""))
}

func signupRequest(c *fiber.Ctx) claims.Request {
	return claims.Request{
		ClaimToken:  c.Query("claim", c.Query("claim_token")),
		SignupToken: c.Query("signup_token"),
		OrderID:     c.Query("order", c.Query("order_id")),
	}
}

// HandleSignupValidate tells the signup page whether the presented credential
// still allows account creation. Invalid outcomes are normal responses, not
// errors.
func HandleSignupValidate(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := signupIssuer().ValidateAny(ctx, signupRequest(c))
	if err != nil {
		log.Errorf("[Signup] validation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "validation_failed"})
	}

	if !result.Valid {
		return c.JSON(fiber.Map{"isValid": false, "reason": result.Reason})
	}
	return c.JSON(fiber.Map{
		"isValid": true,
		"source":  result.Source,
		"metadata": fiber.Map{
			"checkout_id": result.Order.CheckoutID,
			"product_id":  result.Order.ProductID,
			"email":       result.Email,
		},
	})
}

// HandleSignupComplete redeems the credential and activates the account. The
// claim is consumed first; losing the race to a concurrent redemption leaves
// the account untouched.
func HandleSignupComplete(c *fiber.Ctx) error {
	var req SignupCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	issuer := signupIssuer()
	result, err := issuer.ValidateAny(ctx, claims.Request{
		ClaimToken:  req.ClaimToken,
		SignupToken: req.SignupToken,
		OrderID:     req.OrderID,
	})
	if err != nil {
		log.Errorf("[Signup] completion validation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "validation_failed"})
	}
	if !result.Valid {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"isValid": false, "reason": result.Reason})
	}

	if result.Source == claims.SourceClaim {
		consumed, err := issuer.Consume(ctx, strings.TrimSpace(req.ClaimToken))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "claim_consume_failed"})
		}
		if !consumed {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "token_consumed"})
		}
	}

	repos := repository.GetGlobalRepositories()
	user, err := repos.User.GetByEmail(result.Email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_lookup_failed"})
		}
		// Provisioning normally pre-creates the invited account; recover if
		// that write was lost.
		user, err = models.CreateInvitedUser(result.Email, "", "", time.Now())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_create_failed"})
		}
		if err := repos.User.Create(user); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_create_failed"})
		}
	}

	passwordHash := ""
	if strings.TrimSpace(req.Password) != "" {
		passwordHash, err = models.HashPassword(req.Password)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "password_hash_failed"})
		}
	}
	if err := repos.User.Activate(user.ID, strings.TrimSpace(req.ExternalID), strings.TrimSpace(req.Name), passwordHash); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_activate_failed"})
	}

	if _, err := repos.Order.MarkCompleted(result.Order.CheckoutID, &user.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_complete_failed"})
	}

	_ = session.SetSessionValue(c, "user_id", strconv.FormatUint(uint64(user.ID), 10))
	log.Infof("[Signup] account %d activated, order %s completed", user.ID, result.Order.CheckoutID)

	return c.JSON(fiber.Map{
		"ok":          true,
		"checkout_id": result.Order.CheckoutID,
		"user_id":     user.ID,
	})
}
