// Package tgui holds small helpers for building Telegram messages:
// HTML-safe text fragments for ParseMode "HTML", rune-aware truncation and
// an inline URL keyboard builder that stays independent of the bot library.
package tgui
