// Package tgui holds small helpers for Telegram message text: HTML escaping
// for ParseMode="HTML" and rune-safe truncation to Telegram's limits.
package tgui
