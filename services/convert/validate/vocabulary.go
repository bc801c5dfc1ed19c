// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import "strings"

// sourceFunctions is the legacy report formula vocabulary. Lowercase.
var sourceFunctions = []string{
	// aggregates
	"total", "count", "average", "avg", "minimum", "min", "maximum", "max", "median",
	"standard-deviation", "stddev", "variance", "var", "count-distinct",
	"running-total", "running-count", "running-average", "running-minimum", "running-maximum",
	"running-difference", "moving-total", "moving-average",
	"rank", "percentage", "percentile", "quantile", "quartile", "tertile",
	// conditional
	"if", "case", "coalesce", "nullif", "isnull", "is-null",
	// string
	"substring", "substr", "upper", "lower", "trim", "ltrim", "rtrim", "char_length",
	"character_length", "position", "concat", "replace", "left", "right", "length", "lpad", "rpad",
	"index", "soundex",
	// conversion
	"cast", "to_char", "to_date", "to_number", "string2date", "string2timestamp", "number2string",
	"date2string", "timestamp2date",
	// date
	"extract", "current_date", "current_time", "current_timestamp", "localtime", "localtimestamp",
	"_add_days", "_add_months", "_add_years", "_days_between", "_months_between", "_years_between",
	"_day_of_week", "_day_of_year", "_week_of_year", "_first_of_month", "_last_of_month",
	"_make_timestamp", "_ymdint_between", "_age", "_hour", "_minute", "_second", "_day", "_month", "_year",
	"now", "today", "year", "month", "day", "date",
	// numeric
	"abs", "ceiling", "ceil", "floor", "round", "mod", "power", "sqrt", "exp", "ln", "log10", "sign",
	"_round", "trunc",
}

// sourceNonFunctions are keywords that may precede "(" without being calls.
var sourceNonFunctions = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "in": {}, "then": {}, "else": {}, "when": {},
	"is": {}, "like": {}, "between": {}, "for": {}, "at": {}, "within": {},
}

// exprFunctions is the calculation-language (DAX) vocabulary. Uppercase.
var exprFunctions = []string{
	// aggregation
	"SUM", "SUMX", "AVERAGE", "AVERAGEX", "AVERAGEA", "MIN", "MINX", "MINA", "MAX", "MAXX", "MAXA",
	"COUNT", "COUNTX", "COUNTA", "COUNTAX", "COUNTROWS", "COUNTBLANK", "DISTINCTCOUNT",
	"DISTINCTCOUNTNOBLANK", "PRODUCT", "PRODUCTX", "MEDIAN", "MEDIANX", "PERCENTILE.INC",
	"PERCENTILE.EXC", "PERCENTILEX.INC", "PERCENTILEX.EXC", "STDEV.S", "STDEV.P", "STDEVX.S",
	"STDEVX.P", "VAR.S", "VAR.P", "VARX.S", "VARX.P", "RANKX", "RANK.EQ", "TOPN",
	// filter and context
	"CALCULATE", "CALCULATETABLE", "FILTER", "ALL", "ALLEXCEPT", "ALLSELECTED", "ALLNOBLANKROW",
	"REMOVEFILTERS", "KEEPFILTERS", "VALUES", "DISTINCT", "RELATED", "RELATEDTABLE", "USERELATIONSHIP",
	"CROSSFILTER", "EARLIER", "EARLIEST", "HASONEVALUE", "HASONEFILTER", "ISFILTERED", "ISCROSSFILTERED",
	"SELECTEDVALUE", "LOOKUPVALUE", "TREATAS",
	// logical
	"IF", "IF.EAGER", "SWITCH", "AND", "OR", "NOT", "TRUE", "FALSE", "IFERROR", "COALESCE",
	// information
	"BLANK", "ISBLANK", "ISERROR", "ISNUMBER", "ISTEXT", "ISNONTEXT", "ISLOGICAL", "ISEMPTY",
	"CONTAINS", "CONTAINSROW", "CONTAINSSTRING", "CONTAINSSTRINGEXACT", "USERNAME", "USERPRINCIPALNAME",
	// math
	"DIVIDE", "ABS", "ROUND", "ROUNDUP", "ROUNDDOWN", "INT", "TRUNC", "MOD", "POWER", "SQRT", "EXP",
	"LN", "LOG", "LOG10", "CEILING", "FLOOR", "SIGN", "QUOTIENT", "MROUND", "PI", "RAND", "RANDBETWEEN",
	"CURRENCY", "CONVERT", "VALUE",
	// text
	"CONCATENATE", "CONCATENATEX", "LEFT", "RIGHT", "MID", "LEN", "UPPER", "LOWER", "TRIM", "SUBSTITUTE",
	"REPLACE", "SEARCH", "FIND", "FORMAT", "FIXED", "REPT", "EXACT", "UNICHAR", "UNICODE", "COMBINEVALUES",
	// date and time
	"DATE", "DATEVALUE", "TIME", "TIMEVALUE", "NOW", "TODAY", "UTCNOW", "UTCTODAY", "YEAR", "MONTH", "DAY",
	"HOUR", "MINUTE", "SECOND", "WEEKDAY", "WEEKNUM", "QUARTER", "EDATE", "EOMONTH", "DATEDIFF", "DATEADD",
	"DATESYTD", "DATESMTD", "DATESQTD", "DATESBETWEEN", "DATESINPERIOD", "TOTALYTD", "TOTALMTD", "TOTALQTD",
	"SAMEPERIODLASTYEAR", "PREVIOUSYEAR", "PREVIOUSMONTH", "PREVIOUSQUARTER", "PREVIOUSDAY", "NEXTYEAR",
	"NEXTMONTH", "NEXTQUARTER", "NEXTDAY", "PARALLELPERIOD", "STARTOFYEAR", "ENDOFYEAR", "STARTOFMONTH",
	"ENDOFMONTH", "STARTOFQUARTER", "ENDOFQUARTER", "FIRSTDATE", "LASTDATE", "CALENDAR", "CALENDARAUTO",
	"YEARFRAC",
	// table
	"ADDCOLUMNS", "SELECTCOLUMNS", "SUMMARIZE", "SUMMARIZECOLUMNS", "GROUPBY", "UNION", "INTERSECT",
	"EXCEPT", "CROSSJOIN", "NATURALINNERJOIN", "NATURALLEFTOUTERJOIN", "GENERATE", "GENERATEALL",
	"GENERATESERIES", "ROW", "DATATABLE", "FIRSTNONBLANK", "LASTNONBLANK",
}

// queryConnectors are retrieval-script calls that define a data source.
var queryConnectors = []string{
	"Sql.Database", "Sql.Databases", "Oracle.Database", "PostgreSQL.Database", "MySQL.Database",
	"Snowflake.Databases", "GoogleBigQuery.Database", "AmazonRedshift.Database", "Teradata.Database",
	"DB2.Database", "Sybase.Database", "Informix.Database", "SapHana.Database", "Databricks.Catalogs",
	"Odbc.DataSource", "Odbc.Query", "OleDb.DataSource", "OleDb.Query", "AnalysisServices.Database",
	"Excel.Workbook", "Csv.Document", "Json.Document", "Xml.Tables", "Xml.Document", "Web.Contents",
	"Web.Page", "SharePoint.Files", "SharePoint.Tables", "SharePoint.Contents", "Folder.Files",
	"Folder.Contents", "File.Contents", "OData.Feed", "AzureStorage.Blobs", "AzureStorage.DataLake",
	"Salesforce.Objects", "Salesforce.Reports", "Value.NativeQuery",
}

func upperSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[strings.ToUpper(w)] = struct{}{}
	}
	return out
}

func lowerSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[strings.ToLower(w)] = struct{}{}
	}
	return out
}

func exactSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// KnownConnector reports whether name is a recognized retrieval connector call.
func KnownConnector(name string) bool {
	_, ok := connectorSet[name]
	return ok
}

var connectorSet = exactSet(queryConnectors)
