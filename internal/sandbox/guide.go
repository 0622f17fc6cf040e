package sandbox

// Guide describes the analysis language to a code generator. It is
// embedded verbatim in planner and agent prompts.
const Guide = `Write code in the expr language. Each line is one statement.
"name = expression" binds a variable that later lines can use.
Available names:
  df       list of records; access fields with .column_name inside predicates
  columns  list of column names

Builtins: len(x), count(list, predicate), filter(list, predicate), map(list, expr),
sum(list), mean(list), max(list), min(list), sort(list), sortBy(list, expr), groupBy(list, expr),
any(list, predicate), all(list, predicate), round(x), lower(s), upper(s), hasPrefix(s, p),
contains via "x contains y", membership via "x in [a, b]".

Helpers:
  column(rows, "name")                 values of one column
  where(rows, "name", value)           rows whose column equals value
  group_count(rows, "by")              table of counts per value, largest first
  group_mean(rows, "by", "field")      table of mean field per group, highest first
  mean_of(rows, "field")               mean of a numeric column
  sum_of(rows, "field")                total of a numeric column
  sort_by(rows, "field", desc)         rows ordered by a column
  head(rows, n)                        first n rows
  unique(rows, "name")                 distinct values of a column

Examples:
  denied = where(df, "claim_status", "Denied")
  result = count(df, .claim_status == "Denied")
  result = group_count(filter(df, .urgency >= 4), "insurer_name")
  result = head(sort_by(df, "days_since_submission", true), 5)

Always bind the final answer to the variable result.`
