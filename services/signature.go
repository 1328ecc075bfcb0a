package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// hmacSHA256 returns the hex-encoded HMAC-SHA256 of message under key.
func hmacSHA256(message []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymentSignature checks a client-submitted checkout signature.
// Razorpay signs the UTF-8 string "{order_id}|{payment_id}" with the key secret.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	expected := hmacSHA256([]byte(orderID+"|"+paymentID), secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature checks the x-razorpay-signature header against the
// raw, unparsed request body. The webhook secret is distinct from the key secret.
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	expected := hmacSHA256(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
