// Package extract turns a rendered product page into a crawler.Record by
// walking a data-driven table of selector strategies per field. Missing
// elements never raise; they leave the field nil.
package extract
